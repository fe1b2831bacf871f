// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrSyncInProgress is returned when another run already holds the lock for an entity type.
var ErrSyncInProgress = stderrors.New("sync already in progress")

// ErrSyncDisabled is returned when a run is requested while SIPP_SYNC_ENABLED is false.
var ErrSyncDisabled = stderrors.New("sipp sync is disabled")

// ErrUnknownEntityType is returned when an entity type name does not match any synced entity.
type ErrUnknownEntityType struct {
	Name string
}

func (e *ErrUnknownEntityType) Error() string {
	return fmt.Sprintf("unknown entity type: %q", e.Name)
}

// TimeoutError is returned when a SIPP request does not complete within the configured timeout.
type TimeoutError struct {
	Resource string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sipp %s: request timed out: %v", e.Resource, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError is returned when SIPP rejects the configured credentials. It is never retried.
type AuthError struct {
	Resource   string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sipp %s: authentication rejected (HTTP %d)", e.Resource, e.StatusCode)
}

// RateLimitError is returned when SIPP answers with HTTP 429.
type RateLimitError struct {
	Resource   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("sipp %s: rate limited, retry after %s", e.Resource, e.RetryAfter)
	}
	return fmt.Sprintf("sipp %s: rate limited", e.Resource)
}

// TransportError covers network failures, unexpected status codes and undecodable responses.
// StatusCode is zero when no response was received.
type TransportError struct {
	Resource   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sipp %s: unexpected status %d: %v", e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sipp %s: transport failure: %v", e.Resource, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError describes a single remote record that failed decoding or validation.
type ValidationError struct {
	ExternalID string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("invalid record: %v", e.Err)
	}
	return fmt.Sprintf("invalid record %q: %v", e.ExternalID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError marks a record whose local and remote versions both changed
// under the manual conflict strategy.
type ConflictError struct {
	ExternalID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %q changed locally and remotely; manual resolution required", e.ExternalID)
}

// IsRetryable reports whether a client error may succeed on a later attempt.
// Timeouts, rate limits, network failures and 5xx responses are retryable;
// authentication failures and other 4xx responses are not.
func IsRetryable(err error) bool {
	var (
		timeoutErr   *TimeoutError
		rateErr      *RateLimitError
		transportErr *TransportError
	)
	switch {
	case stderrors.As(err, &timeoutErr), stderrors.As(err, &rateErr):
		return true
	case stderrors.As(err, &transportErr):
		return transportErr.StatusCode == 0 || transportErr.StatusCode >= 500
	default:
		return false
	}
}
