// Package message defines the immutable value exchanged between clock nodes
// and its protobuf wire encoding. Payloads that fail to decode are rejected at
// the receive boundary and never reach a node's inbound queue.
package message
