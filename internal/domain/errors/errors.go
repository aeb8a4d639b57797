package errors

import (
	"errors"
	"fmt"
)

// Error types for the KPI engine
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypeCacheStorage  ErrorType = "cache_storage"
)

// Error codes shared between the service and transport layers
const (
	CodeNoUnitsConnected = "NO_UNITS_CONNECTED"
	CodeUnitNotConnected = "UNIT_NOT_CONNECTED"
	CodeNoUnitData       = "NO_UNIT_DATA"
	CodeCacheStorage     = "CACHE_STORAGE"
	CodeInvalidDomain    = "INVALID_DOMAIN"
	CodeInvalidPeriod    = "INVALID_PERIOD"
	CodeInvalidTimeRange = "INVALID_TIME_RANGE"
	CodeInvalidLimit     = "INVALID_LIMIT"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewConfigurationError reports a deployment problem such as no tenant
// database being reachable. It is fatal for the request and not retried.
func NewConfigurationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 503,
	}
}

// NewUnavailableError reports that every backend failed to produce data.
func NewUnavailableError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		Retryable:  true,
		StatusCode: 503,
	}
}

// NewCacheStorageError reports a malfunction of the cache store itself.
// Callers log it and carry on as if the entry were missing.
func NewCacheStorageError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeCacheStorage,
		Code:       CodeCacheStorage,
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// HasCode checks if an error carries a specific code
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
