package fabric

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FailureKind classifies an API failure for the retry policy.
type FailureKind string

const (
	// KindInvalidContent is a permanent rejection of the request payload.
	// Never retried.
	KindInvalidContent FailureKind = "invalid-content"

	// KindAuthExpired means the bearer token was rejected. Recovered by
	// one credential refresh plus one retry.
	KindAuthExpired FailureKind = "auth-expired"

	// KindRateLimited means the service throttled the call. Retried after
	// the mandated delay when the response carries one, else after backoff.
	KindRateLimited FailureKind = "rate-limited"

	// KindTransient covers timeouts, network errors, and 5xx responses.
	// Retried with bounded exponential backoff.
	KindTransient FailureKind = "transient"

	// KindConflict means the named resource already exists. The workspace
	// resolver absorbs this by re-resolving; elsewhere it is permanent.
	KindConflict FailureKind = "conflict"

	// KindPermanent covers any other non-retryable failure.
	KindPermanent FailureKind = "permanent"
)

// APIError is a classified failure from the service API.
type APIError struct {
	// Kind drives the retry policy
	Kind FailureKind

	// StatusCode is the HTTP status, 0 for network-level failures
	StatusCode int

	// RetryAfter is the mandated delay for rate-limited failures, if the
	// response carried one
	RetryAfter time.Duration

	// Message is the service's error message, or the transport error text
	Message string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
}

// classify maps an HTTP status to a FailureKind.
func classify(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthExpired
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidContent
	default:
		return KindPermanent
	}
}

// ErrorKind returns the FailureKind of err, or KindPermanent if err is not
// an APIError.
func ErrorKind(err error) FailureKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindPermanent
}

// IsConflict reports whether err is an already-exists conflict.
func IsConflict(err error) bool {
	return ErrorKind(err) == KindConflict
}

// IsAuthExpired reports whether err is an auth-expiry failure.
func IsAuthExpired(err error) bool {
	return ErrorKind(err) == KindAuthExpired
}

// RetryAfter returns the mandated delay carried by a rate-limited error,
// or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
