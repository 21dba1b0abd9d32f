package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the closed taxonomy every failure is normalized into,
// regardless of which backend produced it.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION"
	ErrCodeAuth          ErrorCode = "AUTH"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrCodeProvider      ErrorCode = "PROVIDER_ERROR"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeNotSupported  ErrorCode = "NOT_SUPPORTED"
	ErrCodeCacheDegraded ErrorCode = "CACHE_DEGRADED"
	ErrCodeInternal      ErrorCode = "INTERNAL"
)

// Error is the structured gateway error. Code is always set; the remaining
// fields are populated where they carry actionable detail (retry-after for
// rate limits, limit/used for quota, backend status for provider errors).
type Error struct {
	Code       ErrorCode      `json:"code"`
	Provider   string         `json:"provider,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Message    string         `json:"message"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the failure is transient and safe to retry.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeTimeout:
		return true
	case ErrCodeProvider:
		return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}

func NewValidationError(msg string) *Error {
	return &Error{Code: ErrCodeValidation, StatusCode: 400, Message: msg}
}

func NewAuthError(msg string) *Error {
	return &Error{Code: ErrCodeAuth, StatusCode: 401, Message: msg}
}

func NewQuotaError(msg string, limit, used int64) *Error {
	return &Error{
		Code:       ErrCodeQuotaExceeded,
		StatusCode: 429,
		Message:    msg,
		Details:    map[string]any{"limit": limit, "used": used},
	}
}

func NewRateLimitError(limit int, retryAfter time.Duration) *Error {
	return &Error{
		Code:       ErrCodeRateLimited,
		StatusCode: 429,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
		Details:    map[string]any{"limit": limit},
	}
}

func NewProviderError(provider string, statusCode int, msg string, cause error) *Error {
	return &Error{
		Code:       ErrCodeProvider,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    msg,
		cause:      cause,
	}
}

func NewTimeoutError(provider string, cause error) *Error {
	return &Error{
		Code:       ErrCodeTimeout,
		Provider:   provider,
		StatusCode: 504,
		Message:    "provider call timed out",
		cause:      cause,
	}
}

func NewNotSupportedError(provider string, op Operation) *Error {
	return &Error{
		Code:       ErrCodeNotSupported,
		Provider:   provider,
		StatusCode: 501,
		Message:    fmt.Sprintf("operation %q not supported by provider %q", op, provider),
	}
}

func NewInternalError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeInternal, StatusCode: 500, Message: msg, cause: cause}
}

// AsError extracts a gateway *Error from err, normalizing unknown errors
// into INTERNAL so callers always see the taxonomy.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Code: ErrCodeInternal, StatusCode: 500, Message: err.Error(), cause: err}
}

// CodeOf returns the taxonomy code of err, or INTERNAL for foreign errors.
func CodeOf(err error) ErrorCode {
	return AsError(err).Code
}

var (
	ErrModelNotFound       = errors.New("model not found")
	ErrModelDeprecated     = errors.New("model deprecated")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrKeyNotFound         = errors.New("api key not found")
)
