package network

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"lamportsim/internal/config"
	"lamportsim/internal/message"
)

// Inbox is the receiving end of a node.
type Inbox interface {
	ID() string
	Receive(payload []byte) error
}

// Stats are cumulative network counters.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Duplicated uint64 `json:"duplicated"`
	Corrupted  uint64 `json:"corrupted"`
	Delivered  uint64 `json:"delivered"`
	// Undeliverable counts payloads the recipient refused.
	Undeliverable uint64 `json:"undeliverable"`
}

// Option configures a Network.
type Option func(*Network)

// WithFaults sets fault probabilities.
func WithFaults(f Faults) Option {
	return func(n *Network) { n.faults = f }
}

// WithLatency sets the delay distribution. Zero delays deliver synchronously.
func WithLatency(l Latency) Option {
	return func(n *Network) { n.latency = l }
}

// WithJitter varies each delay by up to ±jitter of itself.
func WithJitter(jitter float64) Option {
	return func(n *Network) { n.jitter = jitter }
}

// WithSeed makes fault and latency draws reproducible.
func WithSeed(seed uint64) Option {
	return func(n *Network) { n.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// Network routes messages between registered inboxes.
type Network struct {
	mu      sync.RWMutex
	inboxes map[string]Inbox

	rngMu   sync.Mutex
	rng     *rand.Rand
	faults  Faults
	latency Latency
	jitter  float64
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[*time.Timer]struct{}
	closed    bool
	inflight  sync.WaitGroup

	sent, dropped, duplicated, corrupted, delivered, undeliverable atomic.Uint64
}

// New creates a reliable, zero-latency network unless options say otherwise.
func New(opts ...Option) *Network {
	n := &Network{
		inboxes: make(map[string]Inbox),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		faults:  Reliable(),
		latency: ConstantLatency(0),
		logger:  slog.Default(),
		pending: make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FromConfig builds a network from cluster settings.
func FromConfig(cfg config.Network, seed uint64, logger *slog.Logger) *Network {
	opts := []Option{
		WithFaults(Faults{
			DropProbability:      cfg.DropProbability,
			DuplicateProbability: cfg.DuplicateProbability,
			CorruptProbability:   cfg.CorruptProbability,
		}),
		WithLatency(UniformLatency(cfg.LatencyMin, cfg.LatencyMax)),
		WithJitter(cfg.Jitter),
	}
	if seed != 0 {
		opts = append(opts, WithSeed(seed))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return New(opts...)
}

// Register attaches an inbox under its id.
func (n *Network) Register(inbox Inbox) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes[inbox.ID()] = inbox
}

// Unregister detaches an inbox. Messages in flight to it are lost.
func (n *Network) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inboxes, id)
}

// Send implements node.Sender. Drops, duplicates and corruption are silent.
func (n *Network) Send(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.RLock()
	inbox, ok := n.inboxes[msg.RecipientID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnreachable, msg.RecipientID)
	}

	n.pendingMu.Lock()
	closed := n.closed
	n.pendingMu.Unlock()
	if closed {
		return ErrClosed
	}

	n.sent.Add(1)

	n.rngMu.Lock()
	drop := roll(n.rng, n.faults.DropProbability)
	dup := !drop && roll(n.rng, n.faults.DuplicateProbability)
	n.rngMu.Unlock()

	if drop {
		n.dropped.Add(1)
		n.logger.Debug("dropped message", "msg", msg)
		return nil
	}

	copies := 1
	if dup {
		copies = 2
		n.duplicated.Add(1)
	}

	payload := message.Marshal(msg)
	var firstErr error
	for i := range copies {
		n.rngMu.Lock()
		p := payload
		bad := roll(n.rng, n.faults.CorruptProbability)
		if bad {
			p = corrupt(n.rng, payload)
		}
		delay := applyJitter(n.rng, n.latency(n.rng), n.jitter)
		n.rngMu.Unlock()
		if i > 0 && delay > 0 {
			delay += DuplicateDelay
		}

		if bad {
			n.corrupted.Add(1)
		}
		if delay <= 0 {
			if err := n.deliver(inbox, p); err != nil && !bad && firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %w", ErrUnreachable, msg.RecipientID, err)
			}
			continue
		}
		n.schedule(inbox, p, delay)
	}
	return firstErr
}

func (n *Network) schedule(inbox Inbox, payload []byte, delay time.Duration) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if n.closed {
		return
	}

	n.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer n.inflight.Done()
		n.pendingMu.Lock()
		delete(n.pending, t)
		n.pendingMu.Unlock()
		_ = n.deliver(inbox, payload)
	})
	n.pending[t] = struct{}{}
}

func (n *Network) deliver(inbox Inbox, payload []byte) error {
	if err := inbox.Receive(payload); err != nil {
		n.undeliverable.Add(1)
		n.logger.Debug("delivery refused", "to", inbox.ID(), "err", err)
		return err
	}
	n.delivered.Add(1)
	return nil
}

// Stats returns a snapshot of the counters.
func (n *Network) Stats() Stats {
	return Stats{
		Sent:          n.sent.Load(),
		Dropped:       n.dropped.Load(),
		Duplicated:    n.duplicated.Load(),
		Corrupted:     n.corrupted.Load(),
		Delivered:     n.delivered.Load(),
		Undeliverable: n.undeliverable.Load(),
	}
}

// Close discards messages still in flight and waits for deliveries already
// under way. It returns how many messages were discarded.
func (n *Network) Close() int {
	n.pendingMu.Lock()
	n.closed = true
	discarded := 0
	for t := range n.pending {
		if t.Stop() {
			discarded++
			n.inflight.Done()
		}
		delete(n.pending, t)
	}
	n.pendingMu.Unlock()

	n.inflight.Wait()
	return discarded
}
