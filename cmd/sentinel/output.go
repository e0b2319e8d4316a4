package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printEvent renders one task event as a human-readable line.
func printEvent(w io.Writer, ev core.Event) {
	switch ev.Type {
	case core.EventThought:
		if ev.Step == nil {
			return
		}
		s := ev.Step
		fmt.Fprintf(w, "[%3d%%] #%d %-11s %s\n", ev.Progress, s.Seq, s.Phase, s.Thought)
		if s.Observation != "" {
			fmt.Fprintf(w, "       -> %s\n", s.Observation)
		}
	case core.EventComplete:
		fmt.Fprintf(w, "[100%%] completed: %d items, %d tokens\n", ev.ItemCount, ev.TotalTokens)
	case core.EventFailed:
		fmt.Fprintf(w, "failed (%s): %s\n", ev.ErrorKind, ev.Message)
	}
}

func printTask(w io.Writer, rec core.TaskRecord) {
	fmt.Fprintf(w, "id:        %s\n", rec.ID)
	fmt.Fprintf(w, "command:   %s\n", rec.Command)
	fmt.Fprintf(w, "status:    %s (%d%%)\n", rec.Status, rec.Progress)
	fmt.Fprintf(w, "steps:     %d/%d, errors %d, tokens %d\n", rec.StepCount, rec.MaxSteps, rec.ErrorCount, rec.TotalTokens)
	fmt.Fprintf(w, "created:   %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Fprintf(w, "completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.ErrorKind != "" {
		fmt.Fprintf(w, "error:     %s: %s\n", rec.ErrorKind, rec.ErrorMessage)
	}
	if len(rec.Keywords) > 0 {
		fmt.Fprintf(w, "keywords:  %v\n", rec.Keywords)
	}
	if rec.ResultSummary != "" {
		fmt.Fprintf(w, "\n%s\n", rec.ResultSummary)
	}
	if len(rec.Items) > 0 {
		fmt.Fprintf(w, "\n%d items:\n", len(rec.Items))
		for _, it := range rec.Items {
			fmt.Fprintf(w, "  [%s %.2f] %s %s\n", it.Platform, rec.Credibility[it.Key()], it.Title, it.URL)
		}
	}
}

func printTaskTable(w io.Writer, recs []core.TaskRecord, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tITEMS\tCREATED\tCOMMAND")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%d\t%s\t%s\n", r.ID, r.Status, r.Progress, len(r.Items), r.CreatedAt.Format(time.RFC3339), truncate(r.Command, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d task(s)\n", len(recs), total)
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
