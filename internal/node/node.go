package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lamportsim/internal/clock"
	"lamportsim/internal/config"
	"lamportsim/internal/eventlog"
	"lamportsim/internal/fanout"
	"lamportsim/internal/message"
	"lamportsim/internal/queue"
)

// State is the lifecycle state of a node.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sender hands a message to the network. It must not wait for the recipient
// to process the message.
type Sender interface {
	Send(ctx context.Context, msg message.Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg message.Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

var discardSender = SenderFunc(func(context.Context, message.Message) error { return nil })

// Stats are cumulative counters for a node.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Processed uint64 `json:"processed"`
	Sent      uint64 `json:"sent"`
	Internal  uint64 `json:"internal"`
	// SendFailures counts sends the Sender reported as failed.
	SendFailures uint64 `json:"send_failures"`
	Received     uint64 `json:"received"`
	Rejected     uint64 `json:"rejected"`
}

// StopReport describes a node at the moment it stopped.
type StopReport struct {
	NodeID string `json:"node"`
	// QueueLength is the number of messages left unprocessed.
	QueueLength  int    `json:"queue_length"`
	LogicalClock uint64 `json:"logical_clock"`
	Stats
}

// Option configures a Node.
type Option func(*Node)

// WithDrawer replaces the random event draw.
func WithDrawer(d Drawer) Option {
	return func(n *Node) { n.drawer = d }
}

// WithSender sets the network sender. By default sends go nowhere.
func WithSender(s Sender) Option {
	return func(n *Node) { n.sender = s }
}

// WithRecorder sets the event recorder.
func WithRecorder(r eventlog.Recorder) Option {
	return func(n *Node) { n.recorder = r }
}

// WithNow sets the wall clock used to timestamp records.
func WithNow(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithLogger sets the logger. The node adds its own id attribute.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Node) { n.sendTimeout = d }
}

// WithRunID tags every record with a run id.
func WithRunID(id string) Option {
	return func(n *Node) { n.runID = id }
}

// Node is a single logical-clock process.
type Node struct {
	id       string
	peers    []string
	interval time.Duration

	clock *clock.Lamport
	queue *queue.Inbound

	drawer      Drawer
	sender      Sender
	recorder    eventlog.Recorder
	now         func() time.Time
	logger      *slog.Logger
	sendTimeout time.Duration
	runID       string

	mu       sync.Mutex // serialises Start and Stop
	state    atomic.Int32
	cancel   context.CancelFunc
	loopDone chan struct{}
	sends    sync.WaitGroup
	finished bool // guarded by mu
	report   StopReport

	ticks        atomic.Uint64
	processed    atomic.Uint64
	sent         atomic.Uint64
	internal     atomic.Uint64
	sendFailures atomic.Uint64
	received     atomic.Uint64
	rejected     atomic.Uint64
}

// New creates a node from cfg. The peer list is copied and never changes.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		id:          config.NormalizeID(cfg.NodeID),
		peers:       cfg.PeerIDs(),
		interval:    cfg.TickInterval(),
		clock:       clock.New(),
		queue:       queue.New(),
		drawer:      RandomDrawer,
		sender:      discardSender,
		recorder:    eventlog.Discard,
		now:         time.Now,
		logger:      slog.Default(),
		sendTimeout: fanout.DefaultPerTargetTimeout,
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("node", n.id)

	return n, nil
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// Peers returns a copy of the peer ids.
func (n *Node) Peers() []string {
	return append([]string(nil), n.peers...)
}

// Interval returns the tick period.
func (n *Node) Interval() time.Duration { return n.interval }

// Clock returns the current logical clock.
func (n *Node) Clock() uint64 { return n.clock.Time() }

// QueueLen returns the number of queued messages.
func (n *Node) QueueLen() int { return n.queue.Len() }

// State returns the lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

// Stats returns a snapshot of the counters.
func (n *Node) Stats() Stats {
	return Stats{
		Ticks:        n.ticks.Load(),
		Processed:    n.processed.Load(),
		Sent:         n.sent.Load(),
		Internal:     n.internal.Load(),
		SendFailures: n.sendFailures.Load(),
		Received:     n.received.Load(),
		Rejected:     n.rejected.Load(),
	}
}

// Start begins ticking. It returns immediately; the loop runs until Stop is
// called or ctx is cancelled. Cancelling ctx stops the node: the queue is
// closed and further deliveries fail, though Stop must still be called for
// the report. Starting a running node is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrNodeStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.state.Store(int32(StateRunning))

	n.logger.Info("node started", "interval", n.interval, "peers", len(n.peers))
	go n.run(loopCtx)
	return nil
}

// Stop halts the ticker, waits for the tick in progress and any outstanding
// sends, and closes the queue. Subsequent calls return the same report.
func (n *Node) Stop() StopReport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.finished {
		return n.report
	}
	n.finished = true

	if State(n.state.Swap(int32(StateStopped))) != StateCreated {
		n.cancel()
		<-n.loopDone
	}

	remaining := n.queue.Close()
	n.sends.Wait()
	for _, msg := range n.queue.Drain() {
		n.logger.Debug("abandoned message", "msg", msg)
	}

	n.report = StopReport{
		NodeID:       n.id,
		QueueLength:  remaining,
		LogicalClock: n.clock.Time(),
		Stats:        n.Stats(),
	}
	n.logger.Info("node stopped",
		"queue_length", remaining,
		"clock", n.report.LogicalClock,
		"ticks", n.report.Ticks)
	return n.report
}

// Deliver enqueues an inbound message for processing on a later tick.
func (n *Node) Deliver(msg message.Message) error {
	if err := msg.Validate(); err != nil {
		n.rejected.Add(1)
		return err
	}
	msg.RecipientID = config.NormalizeID(msg.RecipientID)
	if msg.RecipientID != n.id {
		n.rejected.Add(1)
		return fmt.Errorf("%w: %s delivered to %s", ErrMisdirected, msg, n.id)
	}
	if n.State() == StateStopped {
		return ErrNodeStopped
	}

	if err := n.queue.Enqueue(msg); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrNodeStopped
		}
		return err
	}
	n.received.Add(1)
	n.logger.Debug("received message", "msg", msg, "queue_length", n.queue.Len())
	return nil
}

// Receive decodes a wire payload and delivers it. Malformed payloads never
// reach the queue.
func (n *Node) Receive(payload []byte) error {
	msg, err := message.Unmarshal(payload)
	if err != nil {
		n.rejected.Add(1)
		n.logger.Warn("rejected malformed message", "err", err, "bytes", len(payload))
		return err
	}
	return n.Deliver(msg)
}

func (n *Node) run(ctx context.Context) {
	defer close(n.loopDone)
	defer n.halt()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			n.tick(ctx)
		}
	}
}

// halt freezes the queue once the loop has exited. When the exit came from
// the start context rather than Stop, the node is marked stopped here so that
// deliveries fail from this point on.
func (n *Node) halt() {
	remaining := n.queue.Close()
	if n.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		n.logger.Info("node halted", "queue_length", remaining, "clock", n.clock.Time())
	}
}

// tick performs exactly one scheduler step.
func (n *Node) tick(ctx context.Context) {
	n.ticks.Add(1)

	if msg, ok := n.queue.TryDequeue(); ok {
		n.process(ctx, msg)
		return
	}

	ev := SelectEvent(n.drawer(), n.peers)
	if ev.Kind == EventInternal {
		n.internalEvent(ctx)
		return
	}
	n.send(ctx, ev.Targets)
}

func (n *Node) process(ctx context.Context, msg message.Message) {
	t := n.clock.Witness(msg.LogicalClockTime)
	n.processed.Add(1)

	qlen := n.queue.Len()
	n.logger.Debug("processed message", "msg", msg, "clock", t, "queue_length", qlen)
	n.record(ctx, eventlog.KindProcess, t, qlen, "")
}

func (n *Node) internalEvent(ctx context.Context) {
	t := n.clock.Tick()
	n.internal.Add(1)

	n.logger.Debug("internal event", "clock", t)
	n.record(ctx, eventlog.KindInternal, t, n.queue.Len(), "")
}

// send stamps one message per target with the clock before incrementing it,
// then hands the batch to the sender without waiting.
func (n *Node) send(ctx context.Context, targets []string) {
	batch := make(map[string]message.Message, len(targets))
	for _, to := range targets {
		msg := message.New(n.clock.Time(), n.id, to)
		batch[to] = msg

		t := n.clock.Tick()
		n.sent.Add(1)
		n.logger.Debug("sent message", "msg", msg, "clock", t)
		n.record(ctx, eventlog.KindSend, t, n.queue.Len(), to)
	}

	n.sends.Add(1)
	go func() {
		defer n.sends.Done()
		n.dispatch(context.WithoutCancel(ctx), targets, batch)
	}()
}

func (n *Node) dispatch(ctx context.Context, targets []string, batch map[string]message.Message) {
	res := fanout.Do(ctx, targets, n.sendTimeout, func(ctx context.Context, target string) error {
		return n.sender.Send(ctx, batch[target])
	})
	if res.Failed == 0 {
		return
	}

	n.sendFailures.Add(uint64(res.Failed))
	n.logger.Warn("send failed",
		"failed", res.Failed,
		"targets", res.Targets,
		"err", fmt.Errorf("%w: %w", ErrTransport, res.Err()))
}

func (n *Node) record(ctx context.Context, kind eventlog.Kind, t uint64, qlen int, to string) {
	rec := eventlog.Record{
		RunID:        n.runID,
		NodeID:       n.id,
		Timestamp:    n.now(),
		LogicalClock: t,
		Kind:         kind,
		QueueLength:  qlen,
		Recipient:    to,
	}
	if err := n.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		n.logger.Warn("record event", "kind", kind, "err", err)
	}
}
