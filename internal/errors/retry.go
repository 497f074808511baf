package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls RetryWithBackoff. Attempt n waits
// InitialBackoff * Multiplier^n, capped at MaxBackoff; rate-limit errors
// always wait MaxBackoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each wait by up to 25% in either direction.
	Jitter bool
	// RetryableErrors decides whether a failure is worth another attempt.
	// Nil retries everything.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig is what the metadata API clients start from.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: IsRetryable,
	}
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable
// error, runs out of retries, or ctx is done.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt >= config.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, err)
		}

		timer := time.NewTimer(config.delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c RetryConfig) delay(attempt int, err error) time.Duration {
	if IsRateLimitError(err) {
		return c.MaxBackoff
	}
	d := c.backoff(attempt)
	if c.Jitter {
		d = c.jitter(d, rand.Float64())
	}
	return d
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// jitter moves d by up to ±25%; r is uniform in [0,1).
func (c RetryConfig) jitter(d time.Duration, r float64) time.Duration {
	d += time.Duration(float64(d) * 0.25 * (2*r - 1))
	switch {
	case d < c.InitialBackoff:
		return c.InitialBackoff
	case d > c.MaxBackoff:
		return c.MaxBackoff
	}
	return d
}
