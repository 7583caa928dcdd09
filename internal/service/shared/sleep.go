// Package shared provides timing helpers used by the polling and delivery
// code: cancellation-aware sleeps and retry backoff.
package shared

import (
	"context"
	"time"
)

// SleepOrDone waits for the duration or returns early on context cancellation.
func SleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns base doubled attempt times, capped at max.
// A non-positive base yields zero.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
