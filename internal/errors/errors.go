// Package errors provides structured error types for crewdeck.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrDenied       = errors.New("access denied")
	ErrConflict     = errors.New("document was modified concurrently")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")

	// Task mutations against a missing id are surfaced, not swallowed.
	ErrTaskNotFound = errors.New("task not found")

	// Invitation workflow conditions.
	ErrNoInvitationFound    = errors.New("no invitation or membership found for this email")
	ErrOwnerSetupIncomplete = errors.New("the inviting project has no credential set configured")
	ErrAlreadyProcessed     = errors.New("invitation has already been processed")
)

// Is wraps the stdlib for callers that only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As wraps the stdlib for callers that only import this package.
func As(err error, target any) bool { return errors.As(err, target) }

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// WrapAPIError creates an API error that wraps an underlying cause.
func WrapAPIError(service string, statusCode int, message string, err error) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message, Err: err}
}

// DomainError pairs a sentinel with user-facing remediation text. The
// invitation workflow depends on users self-diagnosing cross-account setup,
// so the hint travels with the error to the API layer.
type DomainError struct {
	Err         error
	Remediation string
}

func (e *DomainError) Error() string { return e.Err.Error() }

func (e *DomainError) Unwrap() error { return e.Err }

// WithRemediation attaches remediation text to err.
func WithRemediation(err error, hint string) error {
	return &DomainError{Err: err, Remediation: hint}
}

// RemediationFor extracts the remediation hint, if any.
func RemediationFor(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Remediation
	}
	return ""
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// ErrConflict is deliberately excluded: a conflicted write must re-read the
// document before retrying, which plain backoff cannot do.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
