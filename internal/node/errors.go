package node

import "errors"

var (
	// ErrNodeStopped is returned by Start and Deliver once Stop was called.
	ErrNodeStopped = errors.New("node stopped")

	// ErrMisdirected is returned for messages addressed to another node.
	ErrMisdirected = errors.New("message addressed to another node")

	// ErrTransport wraps failures reported by a Sender.
	ErrTransport = errors.New("transport failure")
)
