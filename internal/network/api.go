package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/monitoring"
)

// APIClient performs rate limited JSON requests against one remote service.
type APIClient struct {
	Service   string
	UserAgent string
	HTTP      *http.Client
	Limiter   *rate.Limiter
	Retry     apperrors.RetryConfig
	Cache     *ResponseCache
}

// NewAPIClient creates a client allowing rps requests per second.
func NewAPIClient(service string, httpClient *http.Client, rps float64, userAgent string) *APIClient {
	if httpClient == nil {
		httpClient = GetDefaultClient()
	}
	if rps <= 0 {
		rps = 1
	}
	return &APIClient{
		Service:   service,
		UserAgent: userAgent,
		HTTP:      httpClient,
		Limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		Retry:     apperrors.DefaultRetryConfig(),
	}
}

// GetJSON fetches rawURL and decodes the body into v. Successful bodies are cached when a cache is set.
func (c *APIClient) GetJSON(ctx context.Context, endpoint, rawURL string, v interface{}) error {
	if body, ok := c.Cache.Get(rawURL); ok {
		return json.Unmarshal(body, v)
	}

	body, err := c.do(ctx, endpoint, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.NewEnrichmentError(c.Service+" returned malformed JSON", err)
	}
	c.Cache.Set(rawURL, body)
	return nil
}

// PostFormJSON posts form values and decodes the JSON response into v.
func (c *APIClient) PostFormJSON(ctx context.Context, endpoint, rawURL string, form url.Values, v interface{}) error {
	encoded := form.Encode()
	body, err := c.do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.NewEnrichmentError(c.Service+" returned malformed JSON", err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, endpoint string, build func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := apperrors.RetryWithBackoff(ctx, c.Retry, func() error {
		req, err := build()
		if err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("invalid %s request: %v", c.Service, err))
		}

		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}

		start := time.Now()
		resp, err := c.HTTP.Do(req)
		if err != nil {
			monitoring.RecordAPIRequest(c.Service+"."+endpoint, "error", time.Since(start))
			return apperrors.NewNetworkError(c.Service+" request failed", err)
		}
		defer resp.Body.Close()
		monitoring.RecordAPIRequest(c.Service+"."+endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return apperrors.NewHTTPStatusError(c.Service, resp.StatusCode)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(resp.Body, MaxResponseBytes)); err != nil {
			return apperrors.NewNetworkError("failed to read "+c.Service+" response", err)
		}
		body = buf.Bytes()
		return nil
	})
	return body, err
}
