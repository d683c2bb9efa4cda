package eventlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"lamportsim/internal/clock"
)

// ErrHistory is returned by CheckHistory when a node's clock did not strictly
// increase from one record to the next.
var ErrHistory = errors.New("inconsistent lamport history")

// Kind is the kind of event a record describes.
type Kind string

const (
	KindSend     Kind = "send"
	KindProcess  Kind = "process"
	KindInternal Kind = "internal"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSend, KindProcess, KindInternal:
		return true
	default:
		return false
	}
}

// Record is one observability entry emitted by a node.
type Record struct {
	RunID        string    `json:"run_id,omitempty"`
	NodeID       string    `json:"node"`
	Timestamp    time.Time `json:"timestamp"`
	LogicalClock uint64    `json:"logical_clock"`
	Kind         Kind      `json:"event"`
	QueueLength  int       `json:"queue_length"`
	// Recipient is set for send events only.
	Recipient string `json:"to,omitempty"`
}

// Stamp returns the record's position in the Lamport total order.
func (r Record) Stamp() clock.Timestamp {
	return clock.Timestamp{Time: r.LogicalClock, NodeID: r.NodeID}
}

// Recorder accepts records. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec Record) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Discard drops every record.
var Discard Recorder = RecorderFunc(func(context.Context, Record) error { return nil })

type tee []Recorder

// Tee returns a Recorder that forwards each record to every recorder.
// All recorders are called even if some fail; errors are joined.
func Tee(recorders ...Recorder) Recorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (t tee) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range t {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Merge returns the records of all nodes in Lamport total order:
// by logical clock, then node id. Records of one node keep their relative
// order.
func Merge(records []Record) []Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b Record) int {
		switch a.Stamp().Compare(b.Stamp()) {
		case clock.Before:
			return -1
		case clock.After:
			return 1
		default:
			return 0
		}
	})
	return out
}

// CheckHistory verifies that, in emission order, every node's clock strictly
// increases from one record to the next.
func CheckHistory(records []Record) error {
	last := make(map[string]uint64)
	for i, rec := range records {
		prev, seen := last[rec.NodeID]
		if seen && rec.LogicalClock <= prev {
			return fmt.Errorf("%w: node %s record %d has clock %d after %d",
				ErrHistory, rec.NodeID, i, rec.LogicalClock, prev)
		}
		last[rec.NodeID] = rec.LogicalClock
	}
	return nil
}
