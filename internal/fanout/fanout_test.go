package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_AllSucceed(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	res := Do(context.Background(), []string{"a", "b", "c"}, 0, func(ctx context.Context, target string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[target] = true
		return nil
	})

	assert.Equal(t, 3, res.Targets)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.NoError(t, res.Err())
	assert.Len(t, seen, 3)
}

func TestDo_CountsFailuresWithoutStoppingOthers(t *testing.T) {
	unreachable := errors.New("connection refused")
	targets := []string{"r1", "r2", "r3", "r4", "r5"}

	res := Do(context.Background(), targets, 0, func(ctx context.Context, target string) error {
		if target == "r2" || target == "r4" {
			return unreachable
		}
		return nil
	})

	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 2, res.Failed)
	require.Error(t, res.Err())
	require.Len(t, res.Errors, 2)
	assert.ErrorIs(t, res.Errors[0], unreachable)
}

func TestDo_CapsReportedErrors(t *testing.T) {
	targets := []string{"a", "b", "c", "d", "e", "f"}
	res := Do(context.Background(), targets, 0, func(context.Context, string) error {
		return errors.New("down")
	})

	assert.Equal(t, 6, res.Failed)
	assert.Len(t, res.Errors, maxReportedErrors)
}

func TestDo_SlowTargetTimesOutIndependently(t *testing.T) {
	start := time.Now()
	res := Do(context.Background(), []string{"slow", "fast"}, 20*time.Millisecond, func(ctx context.Context, target string) error {
		if target == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Errors[0], context.DeadlineExceeded)
}

func TestDo_NoTargets(t *testing.T) {
	called := false
	res := Do(context.Background(), nil, 0, func(context.Context, string) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.Equal(t, Result{}, res)
}
