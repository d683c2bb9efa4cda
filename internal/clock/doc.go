// Package clock provides the scalar Lamport clock used by every node and the
// (time, node) timestamp that extends it to a total order over events.
// Clock values are never wall-clock truth: two values only say whether one
// event may have happened before another.
package clock
