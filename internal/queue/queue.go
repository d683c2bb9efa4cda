package queue

import (
	"errors"
	"sync"

	"lamportsim/internal/message"
)

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Inbound is an unbounded FIFO of messages. Arrival order is processing order;
// there is no priority or timestamp reordering.
type Inbound struct {
	mu     sync.Mutex
	items  []message.Message
	closed bool
}

// New creates an empty queue.
func New() *Inbound {
	return &Inbound{
		items: make([]message.Message, 0, 16),
	}
}

// Enqueue appends msg at the tail.
func (q *Inbound) Enqueue(msg message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, msg)
	return nil
}

// TryDequeue removes and returns the oldest message.
// Returns false if the queue is empty.
func (q *Inbound) TryDequeue() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return message.Message{}, false
	}

	msg := q.items[0]
	q.items[0] = message.Message{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return msg, true
}

// Len returns the number of queued messages.
func (q *Inbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues and returns the number of messages still
// queued at that moment. Calling Close again returns the current length.
func (q *Inbound) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return len(q.items)
}

// Drain removes and returns every queued message in FIFO order.
func (q *Inbound) Drain() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]message.Message, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}
