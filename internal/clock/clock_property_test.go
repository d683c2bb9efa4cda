package clock

import (
	"math/rand/v2"
	"testing"
)

// TestLamport_Property_ReceiveRule checks max(L, M) + 1 over random L and M,
// covering both M > L and M <= L.
func TestLamport_Property_ReceiveRule(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		l := rng.Uint64N(1 << 20)
		m := rng.Uint64N(1 << 20)

		c := NewAt(l)
		got := c.Witness(m)

		want := max(l, m) + 1
		if got != want {
			t.Fatalf("Witness(%d) from %d = %d, want %d", m, l, got, want)
		}
	}
}

// TestLamport_Property_StrictlyIncreasing checks that every operation moves
// the clock forward by at least one.
func TestLamport_Property_StrictlyIncreasing(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	c := New()
	prev := c.Time()

	for i := 0; i < 1000; i++ {
		var next uint64
		if rng.IntN(2) == 0 {
			next = c.Tick()
		} else {
			next = c.Witness(rng.Uint64N(prev + 10))
		}
		if next <= prev {
			t.Fatalf("step %d: clock went from %d to %d", i, prev, next)
		}
		prev = next
	}
}

// TestTimestamp_Property_Antisymmetric checks that Compare is antisymmetric.
func TestTimestamp_Property_Antisymmetric(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	rng := rand.New(rand.NewPCG(5, 6))

	for i := 0; i < 500; i++ {
		a := Timestamp{Time: rng.Uint64N(5), NodeID: nodes[rng.IntN(len(nodes))]}
		b := Timestamp{Time: rng.Uint64N(5), NodeID: nodes[rng.IntN(len(nodes))]}

		ab, ba := a.Compare(b), b.Compare(a)
		switch ab {
		case Before:
			if ba != After {
				t.Fatalf("%v before %v but reverse is %v", a, b, ba)
			}
		case After:
			if ba != Before {
				t.Fatalf("%v after %v but reverse is %v", a, b, ba)
			}
		case Equal:
			if ba != Equal || a != b {
				t.Fatalf("%v equal %v but reverse is %v", a, b, ba)
			}
		}
	}
}

// TestLamport_Property_MessageOrder checks the clock condition: a receive
// always orders after the send that produced the message.
func TestLamport_Property_MessageOrder(t *testing.T) {
	sender := NewAt(7)
	receiver := NewAt(2)

	sent := Timestamp{Time: sender.Time(), NodeID: "s"}
	sender.Tick()

	received := Timestamp{Time: receiver.Witness(sent.Time), NodeID: "r"}
	if !sent.Less(received) {
		t.Errorf("Expected send %v before receive %v", sent, received)
	}
}
