package research

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how one call site retries. The same type is used for
// search, fetch and analyzer calls with different parameters.
type RetryPolicy struct {
	// MaxAttempts includes the first call.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter is the fraction of the delay that is randomized (0..1).
	Jitter float64
	// QuotaFactor stretches the delay for KindQuota failures.
	QuotaFactor float64
	// Retryable decides whether an error gets another attempt. Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultFetchPolicy is three attempts with a doubling one second delay.
func DefaultFetchPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
		QuotaFactor: 4,
	}
}

// DefaultSearchPolicy mirrors the fetch policy.
func DefaultSearchPolicy() RetryPolicy {
	return DefaultFetchPolicy()
}

// DefaultAnalyzerPolicy allows two retries after the first completion call.
func DefaultAnalyzerPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		QuotaFactor: 4,
	}
}

// Delay returns the wait before the given retry (attempt starts at 1 for
// the first retry).
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if err != nil && Classify(err) == KindQuota && p.QuotaFactor > 1 {
		d *= p.QuotaFactor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		d = d*(1-j) + d*j*rand.Float64()
	}
	return time.Duration(d)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Retry runs fn until it succeeds, the error is not retryable, attempts are
// exhausted or ctx is done. The returned error is the last failure.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := p.Delay(attempt-1, lastErr)
			if logger != nil {
				logger.Warn("Retrying operation", "op", op, "attempt", attempt, "wait", wait, "last_error", lastErr)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
