// Package apperrors defines the typed error taxonomy shared by the ledger,
// the identity registry and the transport layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorCode string

const (
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeFormat      ErrorCode = "FORMAT_ERROR"
	ErrCodeNotVerified ErrorCode = "NOT_VERIFIED"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeIntegrity   ErrorCode = "INTEGRITY_ERROR"
	ErrCodeProvider    ErrorCode = "PROVIDER_ERROR"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeConflict    ErrorCode = "CONFLICT"
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// AppError is a typed application error.
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter time.Duration          `json:"-"`
	Cause      error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail entry and returns the same error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether the caller may retry the same request later.
func (e *AppError) Retryable() bool {
	return e.Code == ErrCodeRateLimit || e.Code == ErrCodeProvider
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// NewFormatError is a validation error caused by a malformed value.
func NewFormatError(field, reason string) *AppError {
	return New(ErrCodeFormat, fmt.Sprintf("invalid format for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewNotVerifiedError(publicKey, reason string) *AppError {
	return New(ErrCodeNotVerified, fmt.Sprintf("identity not verified: %s", reason)).
		WithDetail("public_key", publicKey)
}

func NewRateLimitError(sender string, retryAfter time.Duration) *AppError {
	e := New(ErrCodeRateLimit, fmt.Sprintf("too many transactions in a short time, retry in %s", retryAfter.Round(time.Second))).
		WithDetail("sender", sender).
		WithDetail("retry_after_ms", retryAfter.Milliseconds())
	e.RetryAfter = retryAfter
	return e
}

func NewIntegrityError(reason string) *AppError {
	return New(ErrCodeIntegrity, fmt.Sprintf("integrity check failed: %s", reason))
}

func NewProviderError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeProvider, fmt.Sprintf("provider operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewNotFoundError(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewConflictError(resource, reason string) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf("conflict with %s: %s", resource, reason)).
		WithDetail("resource", resource)
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasCode(err error, codes ...ErrorCode) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if appErr.Code == c {
			return true
		}
	}
	return false
}

// IsValidation also matches format errors.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation, ErrCodeFormat) }
func IsFormat(err error) bool      { return hasCode(err, ErrCodeFormat) }
func IsNotVerified(err error) bool { return hasCode(err, ErrCodeNotVerified) }
func IsRateLimit(err error) bool   { return hasCode(err, ErrCodeRateLimit) }
func IsIntegrity(err error) bool   { return hasCode(err, ErrCodeIntegrity) }
func IsProvider(err error) bool    { return hasCode(err, ErrCodeProvider) }
func IsNotFound(err error) bool    { return hasCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool    { return hasCode(err, ErrCodeConflict) }

// HTTPStatus maps an error to the status code the API layer renders.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case ErrCodeValidation, ErrCodeFormat:
		return http.StatusBadRequest
	case ErrCodeNotVerified:
		return http.StatusForbidden
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeProvider:
		return http.StatusBadGateway
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
