package network

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamportsim/internal/config"
	"lamportsim/internal/message"
)

type fakeInbox struct {
	id string

	mu       sync.Mutex
	received []message.Message
	refuse   error
}

func (f *fakeInbox) ID() string { return f.id }

func (f *fakeInbox) Receive(payload []byte) error {
	msg, err := message.Unmarshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse != nil {
		return f.refuse
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeInbox) messages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.received...)
}

func quietNetwork(opts ...Option) *Network {
	return New(append([]Option{WithLogger(slog.New(slog.DiscardHandler)), WithSeed(42)}, opts...)...)
}

func TestNetwork_ReliableDelivery(t *testing.T) {
	n := quietNetwork()
	b := &fakeInbox{id: "b"}
	n.Register(b)

	msg := message.New(7, "a", "b")
	require.NoError(t, n.Send(context.Background(), msg))

	assert.Equal(t, []message.Message{msg}, b.messages())
	assert.Equal(t, Stats{Sent: 1, Delivered: 1}, n.Stats())
}

func TestNetwork_UnknownRecipient(t *testing.T) {
	n := quietNetwork()
	err := n.Send(context.Background(), message.New(1, "a", "ghost"))
	assert.ErrorIs(t, err, ErrUnreachable)

	n.Register(&fakeInbox{id: "ghost"})
	n.Unregister("ghost")
	err = n.Send(context.Background(), message.New(1, "a", "ghost"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNetwork_RefusedDeliveryIsUnreachable(t *testing.T) {
	n := quietNetwork()
	refusal := errors.New("node stopped")
	n.Register(&fakeInbox{id: "b", refuse: refusal})

	err := n.Send(context.Background(), message.New(1, "a", "b"))
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, refusal)
	assert.Equal(t, uint64(1), n.Stats().Undeliverable)
}

func TestNetwork_Faults(t *testing.T) {
	tests := []struct {
		name      string
		faults    Faults
		wantRecv  int
		wantStats Stats
	}{
		{
			name:      "drop everything",
			faults:    Faults{DropProbability: 1},
			wantRecv:  0,
			wantStats: Stats{Sent: 1, Dropped: 1},
		},
		{
			name:      "duplicate everything",
			faults:    Faults{DuplicateProbability: 1},
			wantRecv:  2,
			wantStats: Stats{Sent: 1, Duplicated: 1, Delivered: 2},
		},
		{
			name:      "corrupt everything",
			faults:    Faults{CorruptProbability: 1},
			wantRecv:  0,
			wantStats: Stats{Sent: 1, Corrupted: 1, Undeliverable: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := quietNetwork(WithFaults(tt.faults))
			b := &fakeInbox{id: "b"}
			n.Register(b)

			require.NoError(t, n.Send(context.Background(), message.New(3, "a", "b")), "faults are silent")
			assert.Len(t, b.messages(), tt.wantRecv)
			assert.Equal(t, tt.wantStats, n.Stats())
		})
	}
}

func TestNetwork_FairLossRate(t *testing.T) {
	n := quietNetwork(WithFaults(Faults{DropProbability: 0.3}))
	b := &fakeInbox{id: "b"}
	n.Register(b)

	const total = 2000
	for i := range total {
		require.NoError(t, n.Send(context.Background(), message.New(uint64(i), "a", "b")))
	}

	got := float64(len(b.messages())) / total
	assert.InDelta(t, 0.7, got, 0.05)
}

func TestNetwork_LatencyDelaysDelivery(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := quietNetwork(WithLatency(ConstantLatency(100 * time.Millisecond)))
		b := &fakeInbox{id: "b"}
		n.Register(b)

		require.NoError(t, n.Send(context.Background(), message.New(1, "a", "b")))
		synctest.Wait()
		assert.Empty(t, b.messages())
		assert.Zero(t, n.Stats().Delivered)

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, b.messages(), 1)
		assert.Zero(t, n.Close(), "nothing left in flight")
	})
}

func TestNetwork_DuplicateArrivesAfterOriginal(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := quietNetwork(
			WithFaults(Faults{DuplicateProbability: 1}),
			WithLatency(ConstantLatency(10*time.Millisecond)),
		)
		b := &fakeInbox{id: "b"}
		n.Register(b)

		require.NoError(t, n.Send(context.Background(), message.New(1, "a", "b")))

		time.Sleep(10 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, b.messages(), 1)

		time.Sleep(DuplicateDelay)
		synctest.Wait()
		assert.Len(t, b.messages(), 2)
	})
}

func TestNetwork_CloseDiscardsInFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := quietNetwork(WithLatency(ConstantLatency(time.Second)))
		b := &fakeInbox{id: "b"}
		n.Register(b)

		for i := range 3 {
			require.NoError(t, n.Send(context.Background(), message.New(uint64(i), "a", "b")))
		}
		assert.Equal(t, 3, n.Close())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Empty(t, b.messages())
		assert.ErrorIs(t, n.Send(context.Background(), message.New(9, "a", "b")), ErrClosed)
	})
}

func TestNetwork_CancelledContext(t *testing.T) {
	n := quietNetwork()
	n.Register(&fakeInbox{id: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Send(ctx, message.New(1, "a", "b")), context.Canceled)
}

func TestFromConfig(t *testing.T) {
	n := FromConfig(config.Network{DropProbability: 1}, 7, slog.New(slog.DiscardHandler))
	n.Register(&fakeInbox{id: "b"})

	require.NoError(t, n.Send(context.Background(), message.New(1, "a", "b")))
	assert.Equal(t, uint64(1), n.Stats().Dropped)
}

func TestUniformLatencyRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	lat := UniformLatency(5*time.Millisecond, 15*time.Millisecond)
	for range 500 {
		d := lat(rng)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}
	assert.Equal(t, 3*time.Millisecond, UniformLatency(3*time.Millisecond, time.Millisecond)(rng))
}

func TestApplyJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	base := 100 * time.Millisecond
	for range 500 {
		d := applyJitter(rng, base, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, base, applyJitter(rng, base, 0))
}

func TestCorruptAlwaysMalformed(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	payload := message.Marshal(message.New(123456, "127.0.0.1:3000", "127.0.0.1:3001"))
	for range 200 {
		bad := corrupt(rng, payload)
		assert.Less(t, len(bad), len(payload))
		_, err := message.Unmarshal(bad)
		assert.ErrorIs(t, err, message.ErrMalformed)
	}
}
