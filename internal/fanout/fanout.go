package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPerTargetTimeout bounds each individual send.
	DefaultPerTargetTimeout = 2 * time.Second

	// maxReportedErrors caps how many errors a Result keeps.
	maxReportedErrors = 3
)

// SendFunc delivers to a single target.
type SendFunc func(ctx context.Context, target string) error

// Result summarises one fan-out.
type Result struct {
	Targets int
	Sent    int
	Failed  int
	// Errors holds up to three failures, prefixed with the target.
	Errors []error
}

// Err returns a combined error when any target failed, nil otherwise.
func (r Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d sends failed: %v", r.Failed, r.Targets, r.Errors)
}

// Do runs sendFn for every target in parallel and waits for all of them.
// Each call gets its own timeout derived from ctx; a slow target does not
// delay the others. A zero timeout uses DefaultPerTargetTimeout.
func Do(ctx context.Context, targets []string, timeout time.Duration, sendFn SendFunc) Result {
	if timeout <= 0 {
		timeout = DefaultPerTargetTimeout
	}

	res := Result{Targets: len(targets)}
	if len(targets) == 0 {
		return res
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := sendFn(sendCtx, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				if len(res.Errors) < maxReportedErrors {
					res.Errors = append(res.Errors, fmt.Errorf("target %s: %w", target, err))
				}
				return
			}
			res.Sent++
		}(target)
	}

	wg.Wait()
	return res
}
