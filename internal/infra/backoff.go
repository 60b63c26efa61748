package infra

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// maxShift keeps base<<attempt from overflowing.
const maxShift = 30

// CalculateBackoff returns base * 2^attempt, capped at maxDelay.
func CalculateBackoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		return maxDelay
	}
	delay := base << attempt
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		return maxDelay
	}
	return delay
}

// CalculateBackoffWithJitter picks a random delay in [delay/2, delay] so retries of
// many listings don't hit the ledger in lockstep.
func CalculateBackoffWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := CalculateBackoff(base, maxDelay, attempt)
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(delay-half)+1))
}

// SleepWithContext sleeps for d unless ctx finishes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
