package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

const (
	ErrValidation             ErrorCode = "VALIDATION_ERROR"
	ErrNotFound               ErrorCode = "NOT_FOUND"
	ErrEndpointUnavailable    ErrorCode = "ENDPOINT_UNAVAILABLE"
	ErrFeedbackParse          ErrorCode = "FEEDBACK_PARSE"
	ErrEscalationConstruction ErrorCode = "ESCALATION_CONSTRUCTION"
	ErrInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrSessionBusy            ErrorCode = "SESSION_BUSY"
	ErrBackendUnhealthy       ErrorCode = "BACKEND_UNHEALTHY"
	ErrInternalError          ErrorCode = "INTERNAL_ERROR"

	// HTTP 层
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError rejects malformed caller input.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...)).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError reports an unknown session or artifact.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", kind, id)).
		WithHTTPStatus(http.StatusNotFound)
}

// NewEndpointUnavailableError is raised once the retry ceiling is exhausted.
// context names the operation that kept failing.
func NewEndpointUnavailableError(context string, ceiling time.Duration, cause error) *Error {
	return NewError(ErrEndpointUnavailable,
		fmt.Sprintf("%s: endpoint unavailable after retrying for %s", context, ceiling)).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithCause(cause)
}

// NewEscalationConstructionError signals an escalation with nothing to escalate.
func NewEscalationConstructionError(sessionID string) *Error {
	return NewError(ErrEscalationConstruction,
		fmt.Sprintf("session %q has no code artifacts to escalate", sessionID)).
		WithHTTPStatus(http.StatusInternalServerError)
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
