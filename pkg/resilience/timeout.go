// Package resilience provides timeout and retry boundaries used around
// capability calls and network round-trips.
package resilience

import (
	"context"
	"time"

	"github.com/avollmer/conductor/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation.
	// Zero means no bound.
	Duration time.Duration
}

// WithTimeout executes fn under a timeout boundary.
// Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutResult(ctx, config, func(ctx context.Context) (map[string]any, error) {
		return nil, fn(ctx)
	})
	return err
}

// WithTimeoutResult executes fn under a timeout boundary, returning both
// result and error. The derived context is cancelled on timeout so a
// cooperative fn stops early; a fn that ignores cancellation is abandoned.
func WithTimeoutResult(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if config.Duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value map[string]any
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			return nil, errors.New(errors.CodeCancelled, "operation cancelled", ctx.Err())
		}
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", config.Duration.String())
	case res := <-done:
		return res.value, res.err
	}
}
