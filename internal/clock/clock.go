package clock

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Lamport is a monotonically non-decreasing logical clock.
// Only the owning node's scheduler advances it; reads are safe from any
// goroutine.
type Lamport struct {
	t atomic.Uint64
}

// New creates a clock starting at 0.
func New() *Lamport {
	return &Lamport{}
}

// NewAt creates a clock starting at the given value.
func NewAt(start uint64) *Lamport {
	c := &Lamport{}
	c.t.Store(start)
	return c
}

// Time returns the current value without advancing it.
func (c *Lamport) Time() uint64 {
	return c.t.Load()
}

// Tick advances the clock by one for a local event (internal or send) and
// returns the new value.
func (c *Lamport) Tick() uint64 {
	return c.t.Add(1)
}

// Witness applies the receive rule for a message stamped with remote:
// the clock becomes max(local, remote) + 1. Returns the new value.
func (c *Lamport) Witness(remote uint64) uint64 {
	for {
		cur := c.t.Load()
		next := max(cur, remote) + 1
		if c.t.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// CompareResult represents the ordering of two timestamps.
type CompareResult int

const (
	// Before indicates this timestamp orders before the other.
	Before CompareResult = iota
	// After indicates this timestamp orders after the other.
	After
	// Equal indicates the same event.
	Equal
)

// String returns the string representation of CompareResult.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Timestamp identifies an event by the clock value it produced and the node
// that produced it. Ties on Time are broken by NodeID, giving a total order
// consistent with happened-before.
type Timestamp struct {
	Time   uint64
	NodeID string
}

// Compare orders two timestamps by Time, then NodeID.
func (ts Timestamp) Compare(other Timestamp) CompareResult {
	switch {
	case ts.Time < other.Time:
		return Before
	case ts.Time > other.Time:
		return After
	}

	switch strings.Compare(ts.NodeID, other.NodeID) {
	case -1:
		return Before
	case 1:
		return After
	default:
		return Equal
	}
}

// Less reports whether ts orders strictly before other.
func (ts Timestamp) Less(other Timestamp) bool {
	return ts.Compare(other) == Before
}

// String returns "time@node".
func (ts Timestamp) String() string {
	return fmt.Sprintf("%d@%s", ts.Time, ts.NodeID)
}
