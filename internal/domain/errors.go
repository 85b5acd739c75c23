package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for expected lookup and coordination failures
var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrMappingNotFound     = errors.New("mapping not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrSyncInProgress      = errors.New("sync already in progress for this integration")
	ErrLogFinalized        = errors.New("sync log entry already finalized")
)

// AuthError means the credential is expired, revoked or otherwise unusable.
// It is fatal for the current sync run and is never retried; the caller must
// re-authorize the integration.
type AuthError struct {
	TenantID string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for tenant %s: %s: %v", e.TenantID, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed for tenant %s: %s", e.TenantID, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError is raised when the remote API rejects a call for throughput
// reasons. The batch executor absorbs these with its own sleeps; they never
// surface past the executor.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("remote rate limit exceeded (retry after %s)", e.RetryAfter)
}

// TransientError covers network failures and remote 5xx responses. Retried
// by the executor; surfaces only after retries are exhausted.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient remote error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks a malformed record. It fails the single item
// immediately, is not retried, and never aborts the batch.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid record: field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid record: %s", e.Message)
}

// IsAuthError reports whether err is (or wraps) an AuthError
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether the executor should retry the operation.
// Rate limit and transient failures are retryable; auth and validation
// failures are not.
func IsRetryable(err error) bool {
	var re *RateLimitError
	var te *TransientError
	return errors.As(err, &re) || errors.As(err, &te)
}

// ErrorCode maps an error to the short code recorded on sync log items
func ErrorCode(err error) string {
	var ae *AuthError
	var re *RateLimitError
	var te *TransientError
	var ve *ValidationError
	switch {
	case errors.As(err, &ae):
		return "auth_error"
	case errors.As(err, &re):
		return "rate_limited"
	case errors.As(err, &te):
		return "transient_error"
	case errors.As(err, &ve):
		return "validation_error"
	default:
		return "unknown_error"
	}
}
