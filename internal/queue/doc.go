// Package queue provides the inbound message queue owned by each clock node.
// Network receivers enqueue from their own goroutines while the node's
// scheduler dequeues, so every operation is serialised by a mutex.
package queue
