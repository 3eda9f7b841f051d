package persistence

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseMin     = 100 * time.Millisecond
	DefaultBaseMax     = 500 * time.Millisecond
)

// Classifier reports whether an error is transient storage contention (busy, locked,
// serialization failure) that is worth retrying.
type Classifier func(err error) bool

// RetryPolicy configures Retry. The delay before attempt n+1 is
// uniform(BaseMin, BaseMax) * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseMin     time.Duration
	BaseMax     time.Duration
	Classify    Classifier

	// Uniform returns a value in [0, 1). Defaults to math/rand/v2.
	Uniform func() float64
	// OnRetry is called before sleeping for another attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the standard five-attempt policy for the given classifier.
func DefaultRetryPolicy(classify Classifier) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseMin:     DefaultBaseMin,
		BaseMax:     DefaultBaseMax,
		Classify:    classify,
	}
}

// Backoff returns the delay applied after the given zero-based failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	uniform := p.Uniform
	if uniform == nil {
		uniform = rand.Float64
	}

	spread := p.BaseMax - p.BaseMin
	if spread < 0 {
		spread = 0
	}

	base := p.BaseMin + time.Duration(uniform()*float64(spread))

	return base << attempt
}

// Retry runs fn until it succeeds, fails with an error the classifier rejects, or the
// attempt budget runs out. An exhausted budget yields an error wrapping both
// ErrContentionExhausted and the last failure.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if policy.Classify == nil || !policy.Classify(err) {
			return zero, err
		}

		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := policy.Backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return zero, fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrContentionExhausted, attempts, lastErr)
}

// RetryErr is Retry for operations without a result value.
func RetryErr(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}
