package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents network-related errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeRateLimit represents rate limiting errors returned by remote services
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeSource represents failures to fetch the remote source asset
	ErrTypeSource ErrorType = "source"
	// ErrTypeTool represents a missing or failing external binary
	ErrTypeTool ErrorType = "tool"
	// ErrTypeSplit represents an album split failure
	ErrTypeSplit ErrorType = "split"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeEnrichment represents metadata enrichment failures
	ErrTypeEnrichment ErrorType = "enrichment"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// Queue sentinels.
var (
	ErrJobNotFound       = stderrors.New("job not found")
	ErrInvalidTransition = stderrors.New("invalid job state transition")
)

// AppError represents an application error with context.
// StatusCode carries the remote HTTP status when the error came from an API call.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeNetwork,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewHTTPStatusError classifies a non-2xx API response.
func NewHTTPStatusError(service string, statusCode int) *AppError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(service+" rate limited", 1)
	case statusCode == http.StatusNotFound:
		return NewNotFoundError(service + " resource not found")
	case statusCode >= 500:
		return &AppError{
			Type:       ErrTypeNetwork,
			Message:    fmt.Sprintf("%s returned status %d", service, statusCode),
			StatusCode: statusCode,
			Retryable:  true,
		}
	default:
		return &AppError{
			Type:       ErrTypeEnrichment,
			Message:    fmt.Sprintf("%s returned status %d", service, statusCode),
			StatusCode: statusCode,
			Retryable:  false,
		}
	}
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(message string, retryAfter int) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Message:    fmt.Sprintf("%s (retry after %d seconds)", message, retryAfter),
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Retryable:  false,
	}
}

// NewSourceError creates an error for an unreachable or undownloadable source
func NewSourceError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeSource,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewToolError creates an error for a missing or failing external binary
func NewToolError(tool, message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTool,
		Message:   fmt.Sprintf("%s: %s", tool, message),
		Retryable: false,
		Cause:     cause,
	}
}

// NewSplitError creates an error naming the span that failed to split
func NewSplitError(title string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeSplit,
		Message:   fmt.Sprintf("failed to split track %q", title),
		Retryable: false,
		Cause:     cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeFileSystem,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// NewEnrichmentError creates an error for a metadata source failure
func NewEnrichmentError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeEnrichment,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrTypeRateLimit
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsFatalToJob reports whether err must fail the job rather than be absorbed.
func IsFatalToJob(err error) bool {
	switch GetErrorType(err) {
	case ErrTypeSource, ErrTypeTool, ErrTypeSplit, ErrTypeFileSystem, ErrTypeValidation:
		return true
	}
	return false
}

// Truncate bounds a user-visible error message to max runes.
func Truncate(msg string, max int) string {
	r := []rune(msg)
	if max <= 0 || len(r) <= max {
		return msg
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
