package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

func runCMD(load loader) *cobra.Command {
	var (
		maxSteps  int
		timeout   time.Duration
		platforms []string
		since     time.Duration
		asJSON    bool
	)
	var run = &cobra.Command{
		Use:   "run [command]",
		Short: "Execute one command and stream its thought chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := core.SubmitOptions{MaxSteps: maxSteps, Timeout: timeout, Platforms: platforms}
			if since > 0 {
				from := time.Now().Add(-since)
				opts.Since = &from
			}
			id, events, err := a.orch.Execute(context.WithoutCancel(ctx), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					// Interrupted: cancel the task, then drain to its terminal event.
					_ = a.orch.CancelTask(id)
					ctx = context.WithoutCancel(ctx)
				case ev, ok := <-events:
					if !ok || ev.Type == core.EventComplete || ev.Type == core.EventFailed {
						if ok && !asJSON {
							printEvent(out, ev)
						}
						rec, err := a.orch.GetTask(context.WithoutCancel(ctx), id)
						if err != nil {
							return err
						}
						if asJSON {
							return printJSON(out, rec)
						}
						printTask(out, rec)
						if rec.Status == core.PhaseFailed {
							return fmt.Errorf("task %s failed", id)
						}
						return nil
					}
					if !asJSON {
						printEvent(out, ev)
					}
				}
			}
		},
	}
	run.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (0 = configured default)")
	run.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock budget (0 = configured default)")
	run.Flags().StringSliceVar(&platforms, "platforms", nil, "platforms to search (default from config)")
	run.Flags().DurationVar(&since, "since", 0, "only keep items published within this window, e.g. 24h")
	run.Flags().BoolVar(&asJSON, "json", false, "print the final task record as JSON only")
	return run
}
