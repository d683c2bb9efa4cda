// Package network is an in-process fair-loss network between nodes.
//
// Messages are encoded on send and decoded by the recipient, so every
// delivery crosses the same wire boundary as the gRPC transport. Messages
// may be dropped, duplicated, corrupted or delayed; none of this is reported
// to the sender.
package network
