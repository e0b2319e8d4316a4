package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/sentinel/config"
	"github.com/mohammad-safakhou/sentinel/internal/queue/streams"
)

const defaultGroup = "sentinel-cli"

func eventsCMD(load loader) *cobra.Command {
	var group string
	var events = &cobra.Command{
		Use:   "events",
		Short: "Follow task events mirrored to Redis Streams",
	}
	events.PersistentFlags().StringVar(&group, "group", defaultGroup, "consumer group")

	connect := func(cmd *cobra.Command) (*config.Config, *redis.Client, error) {
		cfg, err := load()
		if err != nil {
			return nil, nil, err
		}
		if !cfg.Storage.Redis.Enabled() {
			return nil, nil, fmt.Errorf("events commands need storage.redis to be configured")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(cmd.Context()).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return cfg, rdb, nil
	}

	var taskID string
	var tail = &cobra.Command{
		Use:   "tail",
		Short: "Print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(reg); err != nil {
				return err
			}
			stream := cfg.Streams.Stream
			if err := streams.EnsureGroup(ctx, rdb, stream, group); err != nil {
				return err
			}
			consumer := streams.NewConsumer(rdb, reg, group, "cli-"+uuid.NewString()[:8])
			out := cmd.OutOrStdout()
			err = streams.Follow(ctx, consumer, stream, func(_ context.Context, msg streams.Message) error {
				if taskID != "" && msg.Envelope.TaskID != taskID {
					return nil
				}
				ev, err := streams.DecodeEvent(msg.Envelope)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s ", ev.TaskID)
				printEvent(out, ev)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&taskID, "task", "", "only print events of this task")

	var lag = &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, err := connect(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()
			m, err := streams.GroupLag(cmd.Context(), rdb, cfg.Streams.Stream, group)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stream %s group %s: pending %d, lag %d, consumers %d, oldest idle %s\n",
				cfg.Streams.Stream, group, m.Pending, m.Lag, m.Consumers, m.OldestIdle)
			if m.Stalled(streams.ClaimIdle) {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: events idle over %s, the next tail reclaims them\n", streams.ClaimIdle)
			}
			return nil
		},
	}

	events.AddCommand(tail, lag)
	return events
}
