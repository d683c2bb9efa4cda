package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamportsim/internal/message"
)

func TestInbound_FIFO(t *testing.T) {
	q := New()
	m1 := message.New(7, "a", "self")
	m2 := message.New(1, "b", "self")
	m3 := message.New(4, "a", "self")

	require.NoError(t, q.Enqueue(m1))
	require.NoError(t, q.Enqueue(m2))
	require.NoError(t, q.Enqueue(m3))

	for _, want := range []message.Message{m1, m2, m3} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestInbound_DequeueRemovesExactlyOne(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(message.New(uint64(i), "a", "b")))
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 4, q.Len())
}

func TestInbound_Close(t *testing.T) {
	q := New()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(message.New(uint64(i), "a", "b")))
	}

	assert.Equal(t, 4, q.Close())
	assert.ErrorIs(t, q.Enqueue(message.New(9, "a", "b")), ErrClosed)
	assert.Equal(t, 4, q.Close())

	drained := q.Drain()
	require.Len(t, drained, 4)
	assert.Equal(t, uint64(0), drained[0].LogicalClockTime)
	assert.Equal(t, 0, q.Len())
}

func TestInbound_ConcurrentEnqueuePreservesPerProducerOrder(t *testing.T) {
	tests := []struct {
		name      string
		producers int
		perEach   int
	}{
		{"few producers", 2, 500},
		{"many producers", 50, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := New()

			var wg sync.WaitGroup
			for p := 0; p < tt.producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < tt.perEach; i++ {
						_ = q.Enqueue(message.New(uint64(i), fmt.Sprintf("p%d", p), "self"))
					}
				}(p)
			}

			// Consume concurrently with the producers.
			last := make(map[string]int64)
			got := 0
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			consume := func() {
				for {
					msg, ok := q.TryDequeue()
					if !ok {
						return
					}
					prev, seen := last[msg.SenderID]
					if seen {
						assert.Greater(t, int64(msg.LogicalClockTime), prev, "reordered for %s", msg.SenderID)
					}
					last[msg.SenderID] = int64(msg.LogicalClockTime)
					got++
				}
			}
		loop:
			for {
				select {
				case <-done:
					consume()
					break loop
				default:
					consume()
				}
			}

			assert.Equal(t, tt.producers*tt.perEach, got)
		})
	}
}
