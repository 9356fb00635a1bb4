package cloner

import (
	"context"
	"errors"
	"time"
)

// Backoff is an exponential retry schedule with an explicit attempt ceiling.
type Backoff struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultBackoff mirrors the configured defaults.
var DefaultBackoff = Backoff{MaxAttempts: 3, Initial: 500 * time.Millisecond, Max: 8 * time.Second}

// Delay returns the wait before retry number attempt (1-based): Initial * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx ends, or
// MaxAttempts calls have been made. It returns the last error unwrapped.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context, attempt int) error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
