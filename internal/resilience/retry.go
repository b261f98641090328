package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	InitDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay cap
	Multiplier float64       // Backoff multiplier (e.g., 2.0 for doubling)
	Jitter     float64       // Jitter factor (0.0 to 1.0)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		InitDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryFunc is the function signature for operations that can be retried.
type RetryFunc func(ctx context.Context) error

// Retry executes the operation with exponential backoff and jitter.
// Returns the last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryFunc) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if IsPermanentError(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateDelay(cfg, attempt)):
		}
	}

	return lastErr
}

// calculateDelay computes the delay for a given attempt with jitter.
func calculateDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitDelay) * math.Pow(cfg.Multiplier, float64(attempt))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter > 0 {
		jitterRange := delay * cfg.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	return time.Duration(delay)
}
