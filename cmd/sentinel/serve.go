package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/sentinel/internal/runtime"
	"github.com/mohammad-safakhou/sentinel/internal/scheduler"
	srv "github.com/mohammad-safakhou/sentinel/internal/server"
)

func serveCMD(load loader) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server and scheduled monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := newLogger("[SERVE]")

			tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: version,
			})
			if err != nil {
				return err
			}

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var sched *scheduler.Scheduler
			if cfg.Scheduler.Enabled && len(cfg.Scheduler.Monitors) > 0 {
				if sched, err = a.newScheduler(); err != nil {
					return err
				}
			}

			server := srv.New(a.orch, a.registry, srv.WithLogger(newLogger("[HTTP]")))
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Start(cfg.Server.Address) })
			if sched != nil {
				g.Go(func() error { return sched.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				logger.Printf("shutting down")
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Printf("http shutdown: %v", err)
				}
				if err := a.orch.Shutdown(shutdownCtx); err != nil {
					logger.Printf("task shutdown: %v", err)
				}
				return tel.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
