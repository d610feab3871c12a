package rate

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop around a single backend call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the backends' shared budget: three attempts with
// exponential backoff.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// retryAfterError is implemented by throttle errors carrying a
// server-provided delay.
type retryAfterError interface {
	RetryAfter() (time.Duration, bool)
}

// temporaryError is implemented by failures worth retrying with backoff.
type temporaryError interface {
	Temporary() bool
}

// Retry runs fn up to p.MaxAttempts times. A throttle error sleeps for
// the server-provided delay; a temporary error sleeps an exponentially
// growing backoff; any other error returns immediately. The last error
// is returned once attempts are exhausted.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		delay, retryable := classify(lastErr, p, attempt)
		if !retryable || attempt == p.MaxAttempts-1 {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func classify(err error, p Policy, attempt int) (time.Duration, bool) {
	var ra retryAfterError
	if errors.As(err, &ra) {
		if delay, ok := ra.RetryAfter(); ok {
			if delay <= 0 {
				delay = backoff(p, attempt)
			}
			return delay, true
		}
	}

	var tmp temporaryError
	if errors.As(err, &tmp) && tmp.Temporary() {
		return backoff(p, attempt), true
	}

	return 0, false
}

func backoff(p Policy, attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
