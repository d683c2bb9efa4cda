package network

import "errors"

var (
	// ErrUnreachable is returned when the recipient is not registered or
	// refused a synchronous delivery.
	ErrUnreachable = errors.New("recipient unreachable")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("network closed")
)
