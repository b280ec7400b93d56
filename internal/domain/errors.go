package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrCircuitOpen = errors.New("circuit open")
	ErrLockHeld    = errors.New("lock already held")
	ErrBadPayload  = errors.New("malformed response payload")
)

// ErrorKind classifies an APIError so callers can decide whether to skip,
// delay, or abort the scan tier that hit it.
type ErrorKind string

const (
	// KindRateLimited marks a 429 that survived all internal retries.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable marks an upstream that stayed degraded (5xx, network
	// errors, timeouts) after retries were exhausted.
	KindUnavailable ErrorKind = "unavailable"
	// KindClientError marks a non-retryable 4xx (bad request, bad
	// credentials). It aborts the affected scan tier.
	KindClientError ErrorKind = "client_error"
	// KindCircuitOpen marks a call rejected by the circuit breaker without
	// reaching the network.
	KindCircuitOpen ErrorKind = "circuit_open"
)

// APIError is the typed failure returned by the request executor.
type APIError struct {
	Kind   ErrorKind
	Status int // HTTP status when applicable, 0 otherwise
	Op     string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("marketapi: %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("marketapi: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, domain.ErrCircuitOpen) match breaker rejections that
// were wrapped into an APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrCircuitOpen && e.Kind == KindCircuitOpen
}

// KindOf extracts the error kind from err, walking the wrap chain.
// It returns ok=false when err carries no APIError.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}
