package recovery

import (
	"context"
	"fmt"
	"time"
)

// Do runs op until it succeeds, the strategy gives up, or ctx ends.
// The returned error wraps the last failure and the attempt count.
func Do(ctx context.Context, strategy RetryStrategy, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !strategy.ShouldRetry(err, attempt) {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		if err := Sleep(ctx, strategy.GetDelay(attempt-1)); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
