package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeExternal        ErrorType = "external"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeCircuitOpen     ErrorType = "circuit_open"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeLockUnavailable ErrorType = "lock_unavailable"
	ErrorTypeLockHeld        ErrorType = "lock_held"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewExternalError reports that a dependency call ran and failed. The original
// cause is attached via WithCause and never surfaces in the user-facing message.
func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

// NewTimeoutError reports that a unit of work exceeded its deadline.
func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation)).
		WithDetail("operation", operation)
}

// NewCircuitOpenError reports a call that was short-circuited without being
// attempted because the dependency's breaker is open.
func NewCircuitOpenError(service string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN",
		fmt.Sprintf("%s is temporarily unavailable", service)).
		WithDetail("service", service)
}

// NewRateLimitError reports a rejected request and how long to back off.
func NewRateLimitError(retryAfter time.Duration) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", "rate limit exceeded").
		WithDetail("retry_after", retryAfter.String())
}

// NewLockUnavailableError reports that the coordination store is unreachable
// and the protected operation must not start.
func NewLockUnavailableError(resource string) *AppError {
	return NewAppError(ErrorTypeLockUnavailable, "LOCK_UNAVAILABLE",
		"lock coordination is unavailable, refusing to start").
		WithDetail("resource", resource)
}

// NewLockHeldError reports that another holder owns the lock and the work is
// already in progress elsewhere.
func NewLockHeldError(resource string) *AppError {
	return NewAppError(ErrorTypeLockHeld, "LOCK_HELD", "operation already in progress").
		WithDetail("resource", resource)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

func IsTimeout(err error) bool         { return IsType(err, ErrorTypeTimeout) }
func IsCircuitOpen(err error) bool     { return IsType(err, ErrorTypeCircuitOpen) }
func IsRateLimit(err error) bool       { return IsType(err, ErrorTypeRateLimit) }
func IsLockUnavailable(err error) bool { return IsType(err, ErrorTypeLockUnavailable) }
func IsLockHeld(err error) bool        { return IsType(err, ErrorTypeLockHeld) }
func IsNotFound(err error) bool        { return IsType(err, ErrorTypeNotFound) }

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}
