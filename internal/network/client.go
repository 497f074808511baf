package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
)

// MaxResponseBytes bounds how much of any API response body is read.
const MaxResponseBytes = 4 << 20

var (
	defaultClient     *http.Client
	defaultClientOnce sync.Once
)

// ClientConfig holds configuration for HTTP client
type ClientConfig struct {
	Timeout                time.Duration
	ProxyURL               string
	MaxIdleConns           int
	MaxIdleConnsPerHost    int
	MaxConnsPerHost        int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
	ExpectContinueTimeout  time.Duration
	MaxResponseHeaderBytes int64
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:                15 * time.Second,
		MaxIdleConns:           32,
		MaxIdleConnsPerHost:    8,
		MaxConnsPerHost:        16,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  15 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 1 << 20,
	}
}

// NewClient creates the HTTP client shared by the metadata API clients
func NewClient(config *ClientConfig) (*http.Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		MaxIdleConns:           config.MaxIdleConns,
		MaxIdleConnsPerHost:    config.MaxIdleConnsPerHost,
		MaxConnsPerHost:        config.MaxConnsPerHost,
		IdleConnTimeout:        config.IdleConnTimeout,
		MaxResponseHeaderBytes: config.MaxResponseHeaderBytes,
		TLSHandshakeTimeout:    config.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  config.ResponseHeaderTimeout,
		ExpectContinueTimeout:  config.ExpectContinueTimeout,
	}

	if config.ProxyURL != "" {
		proxy, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}, nil
}

// GetDefaultClient returns a shared HTTP client with default settings
func GetDefaultClient() *http.Client {
	defaultClientOnce.Do(func() {
		// the default config has no proxy so this cannot fail
		defaultClient, _ = NewClient(DefaultClientConfig())
	})
	return defaultClient
}

// FetchBytes downloads a small resource such as a thumbnail, capped at limit bytes.
func FetchBytes(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid url %q", rawURL))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewHTTPStatusError(req.URL.Host, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read body", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return data, nil
}
