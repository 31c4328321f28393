package classifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy bounds how long and how often the external classifier is tried.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
	// Timeout is the hard deadline for the whole call, retries included.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    100 * time.Millisecond,
		Timeout:   8 * time.Second,
	}
}

// Backoff returns the delay before retry number n (n >= 1), without jitter:
// BaseDelay doubled per retry and capped at MaxDelay.
func Backoff(p Policy, n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type retryConfig struct {
	sleep   func(context.Context, time.Duration) error
	jitter  func(time.Duration) time.Duration
	retryIf func(error) bool
}

// RetryOption customizes Retry, mainly for tests.
type RetryOption func(*retryConfig)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) RetryOption {
	return func(c *retryConfig) { c.sleep = fn }
}

// WithJitterSource replaces the uniform jitter source. fn receives the
// configured jitter bound and returns a value in [0, bound).
func WithJitterSource(fn func(time.Duration) time.Duration) RetryOption {
	return func(c *retryConfig) { c.jitter = fn }
}

// WithRetryIf stops retrying as soon as fn returns false for an error.
func WithRetryIf(fn func(error) bool) RetryOption {
	return func(c *retryConfig) { c.retryIf = fn }
}

// Retry calls fn until it succeeds, the attempts run out, or ctx ends.
// It knows nothing about what fn does.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	cfg := retryConfig{
		sleep:   sleepContext,
		jitter:  uniformJitter,
		retryIf: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(p, attempt)
			if p.Jitter > 0 {
				wait += cfg.jitter(p.Jitter)
			}
			if err := cfg.sleep(ctx, wait); err != nil {
				return zero, joinCause(err, lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, joinCause(err, lastErr)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, joinCause(ctx.Err(), lastErr)
		}
		if !cfg.retryIf(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}

func joinCause(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, last)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound)))
}
