// Package retry provides a bounded-attempt policy with pluggable backoff,
// shared by the HTTP fetcher, the browser renderer and webhook delivery.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapped) by Do once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// BackoffFunc returns how long to wait after the given 0-based attempt failed.
type BackoffFunc func(attempt int) time.Duration

// Exponential returns base * 2^attempt: 1s, 2s, 4s ... for base = 1s.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt)
	}
}

// Schedule returns the delays in order; attempts past the end reuse the
// last entry.
func Schedule(delays ...time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		if attempt >= len(delays) {
			return delays[len(delays)-1]
		}
		return delays[attempt]
	}
}

// Policy is a bounded-attempt retry policy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff is consulted between attempts, never after the last one.
	Backoff BackoffFunc

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real waits; nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry, when set, is told about every failed attempt that will be
	// followed by another one, before the wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default is three attempts with 1s, 2s waits in between.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Exponential(time.Second)}
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempt
// budget is spent. The returned error wraps both ErrExhausted and the last
// error produced by fn.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				break
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: Do stops and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
