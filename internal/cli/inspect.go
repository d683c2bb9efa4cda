package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lamportsim/internal/eventlog"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	RunID    string
	Node     string
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	RunID      string            `json:"run_id"`
	Events     []eventlog.Record `json:"events"`
	Consistent bool              `json:"consistent"`
	Error      string            `json:"history_error,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the events of a run in Lamport order",
		Long: `Print the recorded events of a run ordered by (logical clock, node),
the Lamport total order. Without --run the most recent run is shown.

Examples:
  lamportsim inspect --db ./events.db
  lamportsim inspect --db ./events.db --run 0190f5c2-... --node 127.0.0.1:3000`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (defaults to the most recent run)")
	cmd.Flags().StringVar(&opts.Node, "node", "", "only show events of this node")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	store, err := eventlog.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer store.Close()

	runID := opts.RunID
	if runID == "" {
		runs, err := store.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if len(runs) == 0 {
			return NewExitError(ExitCommandError, "no runs recorded in "+opts.Database)
		}
		runID = runs[0]
	}

	events, err := store.Events(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, "no events for run "+runID)
	}

	history, err := store.History(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := InspectResult{RunID: runID, Consistent: true}
	if err := eventlog.CheckHistory(history); err != nil {
		result.Consistent = false
		result.Error = err.Error()
	}

	for _, ev := range events {
		if opts.Node == "" || ev.NodeID == opts.Node {
			result.Events = append(result.Events, ev)
		}
	}
	if result.Events == nil {
		result.Events = []eventlog.Record{}
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if !result.Consistent {
		return NewExitError(ExitFailure, result.Error)
	}
	return nil
}

// WriteText renders events as an aligned table.
func (r InspectResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "run %s: %d events\n", r.RunID, len(r.Events))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLOCK\tNODE\tEVENT\tTO\tQUEUE\tTIME")
	for _, ev := range r.Events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			ev.LogicalClock, ev.NodeID, ev.Kind, ev.Recipient, ev.QueueLength,
			ev.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !r.Consistent {
		_, err := fmt.Fprintf(w, "history INCONSISTENT: %s\n", r.Error)
		return err
	}
	return nil
}
