package node

import (
	"math/rand/v2"
)

// Draws fall in [1, DrawMax].
const DrawMax = 10

// EventKind classifies what a tick does when the queue is empty.
type EventKind int

const (
	EventInternal EventKind = iota
	EventUnicast
	EventBroadcast
)

func (k EventKind) String() string {
	switch k {
	case EventInternal:
		return "internal"
	case EventUnicast:
		return "unicast"
	case EventBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Event is the outcome of SelectEvent.
type Event struct {
	Kind EventKind
	// Targets lists recipients in send order. Empty for internal events.
	Targets []string
}

// Drawer returns an integer in [1, DrawMax].
type Drawer func() int

// RandomDrawer draws uniformly from [1, DrawMax].
func RandomDrawer() int {
	return rand.IntN(DrawMax) + 1
}

// SelectEvent maps a draw to an event:
//
//	1, 2  unicast to peers[draw-1]
//	3     broadcast to every peer
//	4..10 internal event
//
// With no peers every draw is an internal event. With a single peer a draw
// of 2 targets that peer.
func SelectEvent(draw int, peers []string) Event {
	if len(peers) == 0 {
		return Event{Kind: EventInternal}
	}

	switch {
	case draw == 1 || draw == 2:
		idx := min(draw, len(peers)) - 1
		return Event{Kind: EventUnicast, Targets: []string{peers[idx]}}
	case draw == 3:
		targets := make([]string, len(peers))
		copy(targets, peers)
		return Event{Kind: EventBroadcast, Targets: targets}
	default:
		return Event{Kind: EventInternal}
	}
}
