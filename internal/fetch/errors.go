// Package fetch provides the bounded-concurrency HTTP client used by every
// source adapter: per-client semaphore, minimum request interval, retry with
// exponential backoff and jitter, and Retry-After honoring.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type (
	// Kind classifies a fetch failure so callers can apply retry policy
	// without inspecting error strings.
	Kind int

	// Error is the terminal error returned by Client.Do. It records the
	// classification, the final HTTP status (when one was received), and the
	// number of attempts made.
	Error struct {
		Kind     Kind
		Status   int
		Attempts int
		URL      string
		Err      error
	}
)

// Failure classifications.
const (
	// KindTransient covers transport errors, 5xx responses, and sustained 429s
	// after retries are exhausted. Jobs failing with this kind are eligible
	// for scheduled retry.
	KindTransient Kind = iota

	// KindClientError covers 4xx responses other than 429 and 401/403.
	// Indicates a bad request or config; never retried.
	KindClientError

	// KindAuth covers 401 and 403 responses. Missing or invalid API key;
	// never retried.
	KindAuth

	// KindTimeout covers deadline exceedance on an individual attempt after
	// retries are exhausted.
	KindTimeout

	// KindCancelled covers context cancellation propagated from the caller.
	// Never retried.
	KindCancelled
)

// String returns the classification label used in logs and error_details.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindClientError:
		return "client_error"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d after %d attempts): %v",
			e.URL, e.Kind, e.Status, e.Attempts, e.Err)
	}

	return fmt.Sprintf("fetch %s: %s (after %d attempts): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransient for errors that
// did not originate in this package (unexpected failures stay retryable).
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	return KindTransient
}

// Retryable reports whether a job failing with err may be retried by the
// scheduler. Client errors, auth failures, and cancellations are terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindClientError, KindAuth, KindCancelled:
		return false
	default:
		return true
	}
}

// isTimeout reports whether a transport error was a timeout rather than a
// refused or reset connection.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
