// Package node implements a single logical-clock node: the scheduler loop
// that processes queued messages, emits internal events and sends to peers,
// plus the gRPC inbox that feeds its queue.
//
// A node owns its queue and its clock. Receivers enqueue concurrently; only
// the loop goroutine dequeues and advances the clock, at most one dequeue per
// tick.
package node
