package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lamportsim/internal/config"
	"lamportsim/internal/eventlog"
	"lamportsim/internal/network"
	"lamportsim/internal/node"
)

// NodeReport is the per-node part of a Report.
type NodeReport struct {
	node.StopReport
	ClockRate float64 `json:"clock_rate"`
	Records   int     `json:"records"`
	LogFile   string  `json:"log_file,omitempty"`
}

// Report summarises one run.
type Report struct {
	RunID     string         `json:"run_id"`
	Dir       string         `json:"dir,omitempty"`
	Transport string         `json:"transport"`
	Elapsed   time.Duration  `json:"elapsed"`
	Nodes     []NodeReport   `json:"nodes"`
	Records   int            `json:"records"`
	Network   *network.Stats `json:"network,omitempty"`
	// Consistent is true when every node's clock strictly increased across
	// its records.
	Consistent   bool   `json:"consistent"`
	HistoryError string `json:"history_error,omitempty"`
}

// Option configures a Cluster.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	drawer   node.Drawer
	now      func() time.Time
	runID    string
	noFiles  bool
	recorder eventlog.Recorder
}

// WithLogger sets the logger shared by every node.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDrawer replaces the random event draw of every node.
func WithDrawer(d node.Drawer) Option {
	return func(o *options) { o.drawer = d }
}

// WithNow sets the wall clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRunID fixes the run id instead of generating a UUIDv7.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithoutFiles skips the run directory and CSV logs.
func WithoutFiles() Option {
	return func(o *options) { o.noFiles = true }
}

// WithRecorder adds a recorder that receives every node's records.
func WithRecorder(r eventlog.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// Cluster is a set of nodes wired to each other.
type Cluster struct {
	cfg    config.Cluster
	runID  string
	dir    string
	logger *slog.Logger

	nodes    []*node.Node
	rates    []float64
	logFiles []string
	csvs     []*eventlog.CSV
	store    *eventlog.Store
	memory   *eventlog.Memory

	net     *network.Network
	servers []*node.GRPCServer
	clients *node.ClientManager
}

// New validates cfg and builds every node, its logs and its transport.
// Nothing runs until Run is called.
func New(cfg config.Cluster, opts ...Option) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	runID := o.runID
	if runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id.String()
	}

	c := &Cluster{
		cfg:    cfg,
		runID:  runID,
		logger: o.logger.With("run", runID),
		rates:  drawRates(cfg),
		memory: eventlog.NewMemory(),
	}

	if err := c.openLogs(o); err != nil {
		c.closeLogs()
		return nil, err
	}
	if err := c.buildNodes(o); err != nil {
		c.closeLogs()
		c.closeTransport()
		return nil, err
	}
	return c, nil
}

// drawRates returns the configured rates, or integer rates drawn uniformly
// from [MinRate, MaxRate].
func drawRates(cfg config.Cluster) []float64 {
	if len(cfg.Rates) > 0 {
		return append([]float64(nil), cfg.Rates...)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	rates := make([]float64, cfg.Nodes)
	span := cfg.MaxRate - cfg.MinRate + 1
	for i := range rates {
		rates[i] = float64(cfg.MinRate + rng.IntN(span))
	}
	return rates
}

func (c *Cluster) openLogs(o options) error {
	if !o.noFiles {
		c.dir = filepath.Join(c.cfg.LogDir, c.runID)
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return fmt.Errorf("create run directory: %w", err)
		}
	}

	if c.cfg.Database != "" {
		store, err := eventlog.Open(c.cfg.Database)
		if err != nil {
			return err
		}
		c.store = store
	}
	return nil
}

func (c *Cluster) buildNodes(o options) error {
	nodeConfigs := c.cfg.NodeConfigs(c.rates)

	switch c.cfg.Transport {
	case config.TransportGRPC:
		c.clients = node.NewClientManager()
	default:
		c.net = network.FromConfig(c.cfg.Network, c.cfg.Seed, c.logger)
	}

	for i, nc := range nodeConfigs {
		recorders := []eventlog.Recorder{c.memory, o.recorder}
		logFile := ""
		if c.dir != "" {
			logFile = filepath.Join(c.dir, fmt.Sprintf("server-%d.csv", c.cfg.BasePort+i))
			csv, err := eventlog.CreateCSV(logFile)
			if err != nil {
				return err
			}
			c.csvs = append(c.csvs, csv)
			recorders = append(recorders, csv)
		}
		if c.store != nil {
			recorders = append(recorders, c.store.ForRun(c.runID))
		}

		nodeOpts := []node.Option{
			node.WithRecorder(eventlog.Tee(recorders...)),
			node.WithLogger(c.logger),
			node.WithNow(o.now),
			node.WithRunID(c.runID),
		}
		if o.drawer != nil {
			nodeOpts = append(nodeOpts, node.WithDrawer(o.drawer))
		}
		if c.net != nil {
			nodeOpts = append(nodeOpts, node.WithSender(c.net))
		} else {
			nodeOpts = append(nodeOpts, node.WithSender(node.NewGRPCSender(c.clients, nc.AddressBook())))
		}

		n, err := node.New(nc, nodeOpts...)
		if err != nil {
			return fmt.Errorf("build node %s: %w", nc.NodeID, err)
		}

		if c.net != nil {
			c.net.Register(n)
		} else {
			srv, err := node.Listen(n, nc.ListenAddr)
			if err != nil {
				return err
			}
			c.servers = append(c.servers, srv)
		}

		c.nodes = append(c.nodes, n)
		c.logFiles = append(c.logFiles, logFile)
	}
	return nil
}

// RunID returns the run identifier.
func (c *Cluster) RunID() string { return c.runID }

// Dir returns the run directory, empty when files are disabled.
func (c *Cluster) Dir() string { return c.dir }

// Nodes returns the cluster's nodes in port order.
func (c *Cluster) Nodes() []*node.Node {
	return append([]*node.Node(nil), c.nodes...)
}

// Run starts every node, waits for the configured duration or for ctx to
// be cancelled, stops every node and reports. Cancelling ctx ends the run
// early; it is not an error.
func (c *Cluster) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	serveGroup, serveCtx := errgroup.WithContext(ctx)
	for _, srv := range c.servers {
		serveGroup.Go(srv.Serve)
	}

	c.logger.Info("starting cluster",
		"nodes", len(c.nodes),
		"transport", c.cfg.Transport,
		"duration", c.cfg.Duration,
		"rates", c.rates)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, n := range c.nodes {
		if err := n.Start(runCtx); err != nil {
			return Report{}, fmt.Errorf("start node %s: %w", n.ID(), err)
		}
	}

	timer := time.NewTimer(c.cfg.Duration)
	select {
	case <-timer.C:
	case <-serveCtx.Done():
		timer.Stop()
		if ctx.Err() != nil {
			c.logger.Info("run interrupted")
		}
	}

	reports := c.stopNodes()
	elapsed := time.Since(start)

	var netStats *network.Stats
	if c.net != nil {
		discarded := c.net.Close()
		stats := c.net.Stats()
		netStats = &stats
		c.logger.Debug("network closed", "discarded", discarded)
	}
	for _, srv := range c.servers {
		srv.Stop()
	}
	serveErr := serveGroup.Wait()
	if serveErr != nil && errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	report := c.buildReport(reports, elapsed, netStats)
	closeErr := c.Close()

	return report, errors.Join(serveErr, closeErr)
}

func (c *Cluster) stopNodes() []node.StopReport {
	reports := make([]node.StopReport, len(c.nodes))
	var g errgroup.Group
	for i, n := range c.nodes {
		g.Go(func() error {
			reports[i] = n.Stop()
			if c.net != nil {
				c.net.Unregister(n.ID())
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range reports {
		c.logger.Info("remaining queue", "node", r.NodeID, "queue_length", r.QueueLength)
	}
	return reports
}

func (c *Cluster) buildReport(reports []node.StopReport, elapsed time.Duration, netStats *network.Stats) Report {
	records := c.memory.Records()
	report := Report{
		RunID:      c.runID,
		Dir:        c.dir,
		Transport:  c.cfg.Transport,
		Elapsed:    elapsed,
		Records:    len(records),
		Network:    netStats,
		Consistent: true,
	}
	for i, r := range reports {
		report.Nodes = append(report.Nodes, NodeReport{
			StopReport: r,
			ClockRate:  c.rates[i],
			Records:    len(c.memory.ByNode(r.NodeID)),
			LogFile:    c.logFiles[i],
		})
	}
	if err := eventlog.CheckHistory(records); err != nil {
		report.Consistent = false
		report.HistoryError = err.Error()
	}
	return report
}

// Records returns every record emitted so far, in Lamport total order.
func (c *Cluster) Records() []eventlog.Record {
	return eventlog.Merge(c.memory.Records())
}

// Close releases logs, the database and client connections. Run calls it;
// it is only needed when a cluster is built but never run.
func (c *Cluster) Close() error {
	c.closeTransport()
	return errors.Join(c.closeLogs(), c.closeClients())
}

func (c *Cluster) closeTransport() {
	for _, srv := range c.servers {
		srv.Stop()
	}
	if c.net != nil {
		c.net.Close()
	}
}

func (c *Cluster) closeClients() error {
	if c.clients == nil {
		return nil
	}
	return c.clients.Close()
}

func (c *Cluster) closeLogs() error {
	var errs []error
	for _, csv := range c.csvs {
		if err := csv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.csvs = nil
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
		c.store = nil
	}
	return errors.Join(errs...)
}
