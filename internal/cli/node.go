package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lamportsim/internal/config"
	"lamportsim/internal/eventlog"
	"lamportsim/internal/node"
)

// NodeOptions holds flags for the node command.
type NodeOptions struct {
	*RootOptions
	NodeID   string
	Listen   string
	Peers    string
	Rate     float64
	LogFile  string
	Database string
	RunID    string
	Duration time.Duration
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a single clock node over gRPC",
		Long: `Run one clock node in this process. Peers are other lamportsim node
processes reachable over gRPC.

The node runs until interrupted or until --duration elapses, then prints
its stop report.

Example:
  lamportsim node --node-id 127.0.0.1:3000 --listen 127.0.0.1:3000 \
    --peers 127.0.0.1:3001=127.0.0.1:3001,127.0.0.1:3002=127.0.0.1:3002 \
    --rate 2 --log-file server-3000.csv`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node id (defaults to the listen address)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "gRPC listen address (required)")
	_ = cmd.MarkFlagRequired("listen")
	cmd.Flags().StringVar(&opts.Peers, "peers", "", "comma-separated peers id=addr")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 1, "clock rate in ticks per second")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "CSV event log path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite event database path")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id stored with database records")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

func runNode(opts *NodeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	peers, err := config.ParsePeers(opts.Peers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid peers", err)
	}
	id := opts.NodeID
	if id == "" {
		id = opts.Listen
	}
	cfg := config.Config{
		NodeID:     id,
		ListenAddr: opts.Listen,
		ClockRate:  opts.Rate,
		Peers:      peers,
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid node configuration", err)
	}

	var recorders []eventlog.Recorder
	if opts.LogFile != "" {
		csv, err := eventlog.CreateCSV(opts.LogFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create log file", err)
		}
		defer csv.Close()
		recorders = append(recorders, csv)
	}
	if opts.Database != "" {
		store, err := eventlog.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer store.Close()
		runID := opts.RunID
		if runID == "" {
			runID = cfg.NodeID
		}
		recorders = append(recorders, store.ForRun(runID))
	}

	clients := node.NewClientManager()
	defer clients.Close()

	n, err := node.New(cfg,
		node.WithLogger(logger),
		node.WithRecorder(eventlog.Tee(recorders...)),
		node.WithSender(node.NewGRPCSender(clients, cfg.AddressBook())),
		node.WithRunID(opts.RunID),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create node", err)
	}

	srv, err := node.Listen(n, cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	if opts.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.Duration)
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		if err := n.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		// Freeze the queue before the listener goes away; late deliveries
		// are refused as unavailable.
		n.Stop()
		srv.Stop()
		return nil
	})

	serveErr := g.Wait()
	report := n.Stop()
	if serveErr != nil {
		return WrapExitError(ExitFailure, "node failed", serveErr)
	}
	return out.Success(nodeResult{report})
}

type nodeResult struct {
	node.StopReport
}

func (r nodeResult) String() string {
	return fmt.Sprintf("node %s stopped: clock=%d ticks=%d queue=%d send_failures=%d",
		r.NodeID, r.LogicalClock, r.Ticks, r.QueueLength, r.SendFailures)
}
