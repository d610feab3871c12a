package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderUnavailable means no usable credentials exist for this
	// user/provider. Not retryable without user action.
	ErrProviderUnavailable = errors.New("provider unavailable: no usable credentials")

	// ErrReconnectRequired means a token refresh was attempted and
	// failed; the user has to re-authorize the provider.
	ErrReconnectRequired = errors.New("provider needs reconnection")

	// ErrBodyUnavailable is an adapter-internal signal that a body
	// could not be fetched. The orchestrator maps it to an empty body;
	// it never reaches callers of the contract.
	ErrBodyUnavailable = errors.New("message body unavailable")
)

// RateLimitError reports a backend throttle after retries were
// exhausted. RetryAfter carries the server-provided delay, if any.
type RateLimitError struct {
	Provider string
	Delay    time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.Delay)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// RetryAfter implements the rate package's retryable classification.
func (e *RateLimitError) RetryAfter() (time.Duration, bool) {
	return e.Delay, true
}

// TransientError wraps a network-level failure that is worth retrying
// with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Temporary implements the rate package's retryable classification.
func (e *TransientError) Temporary() bool { return true }
