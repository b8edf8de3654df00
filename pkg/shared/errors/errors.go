// Package errors defines the structured error taxonomy used across the
// incident pipeline. Every synchronous, caller-visible failure is an
// *AppError so handlers can map it to a transport status without a type
// switch over raw error strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failure for status-code mapping, logging, and
// (for the async kinds) telemetry routing instead of caller propagation.
type ErrorType string

const (
	ErrorTypeValidation             ErrorType = "validation"
	ErrorTypeNotFound               ErrorType = "not_found"
	ErrorTypeRateLimit              ErrorType = "rate_limit"
	ErrorTypeTimeout                ErrorType = "timeout"
	ErrorTypeInvalidStateTransition ErrorType = "invalid_state_transition"
	ErrorTypeBackendUnavailable     ErrorType = "backend_unavailable"
	ErrorTypeCircuitOpen            ErrorType = "circuit_open"
	ErrorTypeCorrelationFailure     ErrorType = "correlation_failure"
	ErrorTypeEscalationFailure      ErrorType = "escalation_notification_failure"
	ErrorTypeAuth                   ErrorType = "auth"
	ErrorTypeConflict               ErrorType = "conflict"
	ErrorTypeDatabase               ErrorType = "database"
	ErrorTypeNetwork                ErrorType = "network"
	ErrorTypeInternal               ErrorType = "internal"
)

// statusByType is the HTTP-class mapping from spec.md §7. CorrelationFailure
// and EscalationFailure are never surfaced to a caller (they are recorded as
// telemetry/timeline entries), but they still carry a status for LogFields.
var statusByType = map[ErrorType]int{
	ErrorTypeValidation:             http.StatusBadRequest,
	ErrorTypeNotFound:               http.StatusNotFound,
	ErrorTypeRateLimit:              http.StatusTooManyRequests,
	ErrorTypeTimeout:                http.StatusRequestTimeout,
	ErrorTypeInvalidStateTransition: http.StatusConflict,
	ErrorTypeBackendUnavailable:     http.StatusServiceUnavailable,
	ErrorTypeCircuitOpen:            http.StatusServiceUnavailable,
	ErrorTypeCorrelationFailure:     http.StatusInternalServerError,
	ErrorTypeEscalationFailure:      http.StatusInternalServerError,
	ErrorTypeAuth:                   http.StatusUnauthorized,
	ErrorTypeConflict:               http.StatusConflict,
	ErrorTypeDatabase:               http.StatusInternalServerError,
	ErrorTypeNetwork:                http.StatusInternalServerError,
	ErrorTypeInternal:               http.StatusInternalServerError,
}

// AppError is the structured error carried through the pipeline.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusByType[t],
	}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusByType[t],
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	return s
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors for the most common kinds.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewRateLimitError(source string) *AppError {
	return Newf(ErrorTypeRateLimit, "rate limit exceeded for source %q", source)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewInvalidStateTransitionError(from, to string) *AppError {
	return Newf(ErrorTypeInvalidStateTransition, "invalid state transition: %s -> %s", from, to)
}

func NewBackendUnavailableError(backend string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeBackendUnavailable, "backend unavailable: %s", backend)
}

func NewCircuitOpenError(name string) *AppError {
	return Newf(ErrorTypeCircuitOpen, "circuit open: %s", name)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns the error's ErrorType, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP-class status for err.
func GetStatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the caller-safe text for error types whose raw
// Message may contain internal detail (backend names, DSNs, stack context).
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
	CircuitOpen            string
}{
	ResourceNotFound:       "The requested resource could not be found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation took too long to complete",
	RateLimitExceeded:      "Too many requests, please slow down",
	ConcurrentModification: "The resource was modified concurrently, please retry",
	CircuitOpen:            "The dependency is temporarily unavailable",
}

// SafeErrorMessage returns a message safe to return to an external caller:
// validation messages pass through verbatim (they describe caller input),
// everything else is mapped to a generic, type-specific message.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict, ErrorTypeInvalidStateTransition:
		return ErrorMessages.ConcurrentModification
	case ErrorTypeCircuitOpen:
		return ErrorMessages.CircuitOpen
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for a logr/zap sink.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	var ae *AppError
	if !errors.As(err, &ae) {
		fields["error_type"] = string(ErrorTypeInternal)
		fields["status_code"] = http.StatusInternalServerError
		return fields
	}
	fields["error_type"] = string(ae.Type)
	fields["status_code"] = ae.StatusCode
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = ae.Cause.Error()
	}
	return fields
}
