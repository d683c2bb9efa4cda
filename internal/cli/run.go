package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lamportsim/internal/cluster"
	"lamportsim/internal/config"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	Nodes      int
	Rates      []float64
	Duration   time.Duration
	Transport  string
	LogDir     string
	Database   string
	Drop       float64
	Seed       uint64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulated cluster",
		Long: `Start a full-mesh cluster of clock nodes, let it run for a fixed
duration, stop every node and report the remaining queue lengths.

Settings come from defaults, then the YAML config file, then LAMPORTSIM_*
environment variables (optionally read from an env file), then flags.

Each node writes a CSV event log to <log-dir>/<run id>/server-<port>.csv.

Examples:
  lamportsim run
  lamportsim run --nodes 5 --duration 30s --drop 0.1
  lamportsim run --config cluster.yaml --db ./events.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCluster(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML cluster config")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "path to .env file with LAMPORTSIM_* variables")
	cmd.Flags().IntVarP(&opts.Nodes, "nodes", "n", 0, "number of nodes")
	cmd.Flags().Float64SliceVar(&opts.Rates, "rates", nil, "fixed clock rate per node (ticks per second)")
	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "how long to run")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "transport (memory|grpc)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "directory for run logs")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite event database")
	cmd.Flags().Float64Var(&opts.Drop, "drop", 0, "message drop probability (memory transport)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for clock rates and network faults")

	return cmd
}

// loadClusterConfig layers defaults, file, environment and flags.
func loadClusterConfig(opts *RunOptions, cmd *cobra.Command) (config.Cluster, error) {
	cfg := config.DefaultCluster()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadCluster(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(&cfg, opts.EnvFile); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("nodes") {
		cfg.Nodes = opts.Nodes
	}
	if flags.Changed("rates") {
		cfg.Rates = opts.Rates
	}
	if flags.Changed("duration") {
		cfg.Duration = opts.Duration
	}
	if flags.Changed("transport") {
		cfg.Transport = opts.Transport
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = opts.LogDir
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("drop") {
		cfg.Network.DropProbability = opts.Drop
	}
	if flags.Changed("seed") {
		cfg.Seed = opts.Seed
	}

	return cfg, cfg.Validate()
}

func runCluster(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := loadClusterConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid cluster configuration", err)
	}

	c, err := cluster.New(cfg, cluster.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build cluster", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, err := c.Run(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}

	if err := out.Success(runResult{report}); err != nil {
		return err
	}
	if !report.Consistent {
		return NewExitError(ExitFailure, "inconsistent lamport history: "+report.HistoryError)
	}
	return nil
}

// signalContext derives a context from the command that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

type runResult struct {
	cluster.Report
}

func (r runResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "run %s (%s transport, %s)\n", r.RunID, r.Transport, r.Elapsed.Round(time.Millisecond))
	if r.Dir != "" {
		fmt.Fprintf(w, "logs: %s\n", r.Dir)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tRATE\tTICKS\tCLOCK\tSENT\tPROCESSED\tINTERNAL\tFAILED\tQUEUE")
	for _, n := range r.Nodes {
		fmt.Fprintf(tw, "%s\t%g\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			n.NodeID, n.ClockRate, n.Ticks, n.LogicalClock,
			n.Sent, n.Processed, n.Internal, n.SendFailures, n.QueueLength)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Network != nil {
		fmt.Fprintf(w, "network: sent=%d dropped=%d duplicated=%d corrupted=%d delivered=%d undeliverable=%d\n",
			r.Network.Sent, r.Network.Dropped, r.Network.Duplicated,
			r.Network.Corrupted, r.Network.Delivered, r.Network.Undeliverable)
	}

	history := "consistent"
	if !r.Consistent {
		history = "INCONSISTENT: " + r.HistoryError
	}
	_, err := fmt.Fprintf(w, "records: %d, history %s\n", r.Records, history)
	return err
}
