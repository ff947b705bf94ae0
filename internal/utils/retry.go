package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds WithRetries. Only CodeUnavailable errors are retried.
type RetryPolicy struct {
	Attempts     uint
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// OnRetry is called before each backoff sleep.
	OnRetry func(err error, wait time.Duration)
}

// DefaultRetryPolicy waits 1.5s, then 2.25s, between three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: 1500 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts == 0 {
		p.Attempts = d.Attempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// WithRetries runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error from fn is returned unchanged.
func WithRetries[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.Attempts),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(p.OnRetry)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		out, err := fn(ctx)
		if err != nil && !IsCode(err, CodeUnavailable) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, opts...)
}

// Retry is WithRetries for operations without a result.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := WithRetries(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
