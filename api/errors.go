package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/dnspause/dnspause"
)

// ErrUnauthorized is returned when the service rejects the bearer token.
// The credential must be re-entered; retrying cannot help.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned when the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrUpstreamRejected is returned when the service answered 2xx but
// reported success=false in the response envelope.
var ErrUpstreamRejected = errors.New("upstream rejected request")

// StatusError is returned for unexpected HTTP status codes. 5xx statuses
// are considered transient; everything else is fatal.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// RateLimitError is returned for HTTP 429 responses. RetryAfter carries the
// server-provided wait when the Retry-After header was present.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// RetryAfterHint reports the server-provided minimum wait before the next
// attempt. The retry layer picks this up through a matching interface.
func (e *RateLimitError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// TransportError wraps a failure to complete the HTTP exchange: connection
// refused, DNS failure, timeout. These are always transient.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %v", e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is returned when a 2xx response body does not match the
// expected schema. It indicates API contract drift and is never retried.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// IsRetryable classifies errors for the retry layer. Transient transport
// failures, 5xx statuses and rate limiting are retryable; credential,
// not-found and decoding errors are surfaced immediately.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	if errors.Is(err, dnspause.ErrInvalidCredential) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUpstreamRejected) {
		return false
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	return false
}
