// Package errors provides a structured error system for iotrace with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for iotrace operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Keyed store errors
	ErrCodeKeyExists ErrorCode = "KEY_EXISTS"
	ErrCodeStoreFull ErrorCode = "STORE_FULL"
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"

	// Kernel map errors
	ErrCodeMapOpen   ErrorCode = "MAP_OPEN"
	ErrCodeMapAccess ErrorCode = "MAP_ACCESS"

	// Archive errors
	ErrCodeArchiveWrite   ErrorCode = "ARCHIVE_WRITE"
	ErrCodeArchiveEncode  ErrorCode = "ARCHIVE_ENCODE"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// Event source errors
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStore         ErrorCategory = "store"
	CategoryKernel        ErrorCategory = "kernel"
	CategoryArchive       ErrorCategory = "archive"
	CategorySource        ErrorCategory = "source"
	CategoryInternal      ErrorCategory = "internal"
)

// TraceError represents a structured error with context and metadata.
type TraceError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *TraceError) Error() string {
	var msg string
	switch {
	case e.Component != "" && e.Operation != "":
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	case e.Component != "":
		msg = fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	default:
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *TraceError) Unwrap() error {
	return e.Cause
}

// Is matches on error code, so a sentinel matches every error carrying the same code.
func (e *TraceError) Is(target error) bool {
	if t, ok := target.(*TraceError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *TraceError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("TraceError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *TraceError {
	return &TraceError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error with the given cause.
func Wrap(code ErrorCode, message string, cause error) *TraceError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeKeyExists, ErrCodeStoreFull, ErrCodeNotFound:
		return CategoryStore
	case ErrCodeMapOpen, ErrCodeMapAccess:
		return CategoryKernel
	case ErrCodeArchiveWrite, ErrCodeArchiveEncode, ErrCodeNetworkError, ErrCodeAccessDenied,
		ErrCodeCircuitOpen, ErrCodeRetryExhausted:
		return CategoryArchive
	case ErrCodeMalformedEvent:
		return CategorySource
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeArchiveWrite, ErrCodeNetworkError, ErrCodeInternalError:
		return true
	}
	return false
}

// WithDetail adds detailed information to an error
func (e *TraceError) WithDetail(key string, value interface{}) *TraceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *TraceError) WithComponent(component string) *TraceError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *TraceError) WithOperation(operation string) *TraceError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *TraceError) WithCause(cause error) *TraceError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable hint.
func (e *TraceError) WithRetryable(retryable bool) *TraceError {
	e.Retryable = retryable
	return e
}
