// Package retry wraps operations with bounded exponential backoff. The
// backoff engine is github.com/cenkalti/backoff/v5; this package adds named
// presets, error classification and server-provided retry hints on top.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// jitterFactor is the relative perturbation applied to each delay when
// jitter is enabled: delays are drawn uniformly from ±30% of the computed
// interval.
const jitterFactor = 0.3

// Policy holds the numeric parameters of a retry schedule plus the error
// classifier. The three presets differ only in the numbers.
type Policy struct {
	// MaxAttempts is the total number of invocations, first try included.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter enables ±30% uniform perturbation of each delay.
	Jitter bool

	// Retryable classifies errors. A nil classifier retries everything.
	// Non-retryable errors surface immediately without further attempts.
	Retryable func(error) bool

	// OnRetry, when set, is invoked before each sleep with the failure
	// and the upcoming delay. Used for logging and metrics.
	OnRetry func(err error, next time.Duration)
}

// Default is the general-purpose preset: 3 attempts, 1s base, doubling,
// capped at 30s, with jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Aggressive retries more, faster: 5 attempts, 500ms base, ×1.5, 10s cap.
func Aggressive() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  1.5,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Conservative backs off hard: 2 attempts, 2s base, ×3, 60s cap.
func Conservative() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		Multiplier:  3.0,
		MaxDelay:    60 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the pre-jitter delay after the given zero-based attempt:
// min(MaxDelay, BaseDelay·Multiplier^attempt). It is monotonically
// non-decreasing in the attempt index.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// backOff builds the underlying backoff schedule for one execution.
func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// retryAfterHinter is implemented by errors that carry a server-supplied
// minimum wait, such as rate-limit responses.
type retryAfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// Do invokes op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is exhausted, sleeping the policy's delay between attempts.
// Retry sleeps respect ctx cancellation. The last error is surfaced on
// exhaustion.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var lastErr error
	wrapped := func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		if hinter, ok := err.(retryAfterHinter); ok {
			if wait, ok := hinter.RetryAfterHint(); ok {
				return v, &backoff.RetryAfterError{Duration: wait}
			}
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			p.OnRetry(err, next)
		}))
	}

	v, err := backoff.Retry(ctx, wrapped, opts...)
	if err != nil && lastErr != nil {
		// Exhaustion after a rate-limit hint surfaces the engine's
		// RetryAfterError; callers want the original failure.
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) {
			err = lastErr
		}
	}
	return v, err
}
