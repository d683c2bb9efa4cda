// Package fanout sends one message per target concurrently, each under its own
// timeout, and reports how many went through. It never retries.
package fanout
