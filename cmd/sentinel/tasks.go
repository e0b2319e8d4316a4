package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/store"
)

// tasksCMD reads persisted tasks straight from Postgres.
func tasksCMD(load loader) *cobra.Command {
	var asJSON bool
	var tasks = &cobra.Command{
		Use:   "tasks",
		Short: "Inspect persisted tasks",
	}
	tasks.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON")

	open := func(cmd *cobra.Command) (*store.Store, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if !cfg.Storage.Postgres.Enabled() {
			return nil, fmt.Errorf("tasks commands need storage.postgres to be configured")
		}
		return store.NewWithDSN(cmd.Context(), cfg.Storage.Postgres.DSN())
	}

	var get = &cobra.Command{
		Use:   "get [id]",
		Short: "Show one task with its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			printTask(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	var status string
	var limit, offset int
	var list = &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			phase := core.Phase(status)
			if status != "" && !phase.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			recs, total, err := st.Query(cmd.Context(), core.Criteria{Status: phase, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"tasks": recs, "total": total})
			}
			return printTaskTable(cmd.OutOrStdout(), recs, total)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 20, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	tasks.AddCommand(get, list)
	return tasks
}
