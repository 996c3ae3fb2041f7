package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

const maxShift = 62

// Sleeper waits between retries. The drain loop depends on this interface so
// tests can replay dozens of retries without real delay.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return SleepWithContext(ctx, d)
}

// SleepWithContext sleeps for the specified duration but respects context cancellation.
// Returns nil if the sleep completes, or an error if the context is cancelled.
// Returns immediately (nil) for zero or negative durations.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Policy returns the delay to wait before the given retry (1-based).
type Policy func(retry int) time.Duration

// Constant waits the same interval before every retry.
func Constant(interval time.Duration) Policy {
	return func(int) time.Duration {
		if interval < 0 {
			return 0
		}

		return interval
	}
}

// Exponential waits base * 2^(retry-1), capped at limit when limit > 0.
func Exponential(base, limit time.Duration) Policy {
	return func(retry int) time.Duration {
		d := exponential(base, retry-1)
		if limit > 0 && d > limit {
			return limit
		}

		return d
	}
}

// exponential calculates base * 2^attempt with overflow protection.
// Negative attempts are treated as 0.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// Budget is the total time a policy waits over retries.
func Budget(policy Policy, retries int) time.Duration {
	var total time.Duration

	for retry := 1; retry <= retries; retry++ {
		d := policy(retry)
		if total > time.Duration(math.MaxInt64)-d {
			return time.Duration(math.MaxInt64)
		}

		total += d
	}

	return total
}
