package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Type:    ErrTypeNetwork,
				Message: "connection failed",
			},
			expected: "network: connection failed",
		},
		{
			name: "error with cause",
			err: &AppError{
				Type:    ErrTypeNetwork,
				Message: "connection failed",
				Cause:   fmt.Errorf("dial tcp: timeout"),
			},
			expected: "network: connection failed (caused by: dial tcp: timeout)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &AppError{
		Type:  ErrTypeNetwork,
		Cause: cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestNewNetworkError(t *testing.T) {
	cause := fmt.Errorf("connection timeout")
	err := NewNetworkError("network failed", cause)

	if err.Type != ErrTypeNetwork {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeNetwork)
	}
	if err.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusServiceUnavailable)
	}
	if !err.Retryable {
		t.Error("Expected network error to be retryable")
	}
}

func TestNewHTTPStatusError(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrTypeRateLimit, true},
		{http.StatusNotFound, ErrTypeNotFound, false},
		{http.StatusServiceUnavailable, ErrTypeNetwork, true},
		{http.StatusBadRequest, ErrTypeEnrichment, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := NewHTTPStatusError("musicbrainz", tt.status)
			if err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", err.Type, tt.wantType)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
		})
	}
}

func TestNewSplitErrorNamesTrack(t *testing.T) {
	err := NewSplitError("Song Two", fmt.Errorf("exit status 1"))
	if !strings.Contains(err.Error(), "Song Two") {
		t.Errorf("error %q does not name the failing track", err.Error())
	}
	if err.Type != ErrTypeSplit {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeSplit)
	}
}

func TestNewToolError(t *testing.T) {
	err := NewToolError("ffmpeg", "not found in PATH", nil)
	if err.Message != "ffmpeg: not found in PATH" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Retryable {
		t.Error("tool errors should not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError("x", nil), true},
		{"rate limit", NewRateLimitError("x", 5), true},
		{"validation", NewValidationError("x"), false},
		{"wrapped network", fmt.Errorf("lookup: %w", NewNetworkError("x", nil)), true},
		{"plain error", fmt.Errorf("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewSourceError("x", nil)); got != ErrTypeSource {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeSource)
	}
	if got := GetErrorType(fmt.Errorf("plain")); got != ErrTypeUnknown {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeUnknown)
	}
}

func TestIsFatalToJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"tool", NewToolError("yt-dlp", "missing", nil), true},
		{"source", NewSourceError("unreachable", nil), true},
		{"split", NewSplitError("a", nil), true},
		{"filesystem", NewFileSystemError("move", nil), true},
		{"enrichment", NewEnrichmentError("lastfm down", nil), false},
		{"network", NewNetworkError("x", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatalToJob(tt.err); got != tt.want {
				t.Errorf("IsFatalToJob() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("Truncate() = %q, want abc...", got)
	}
	if got := Truncate("ààààà", 4); got != "à..." {
		t.Errorf("Truncate() = %q, want rune-safe cut", got)
	}
}
