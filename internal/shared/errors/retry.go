package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"agentos/internal/shared/logging"
)

// RetryConfig bounds the in-place retry loop used before fallback.
type RetryConfig struct {
	MaxRetries   int           // additional attempts after the first
	BaseDelay    time.Duration // first backoff step
	MaxDelay     time.Duration // backoff cap
	JitterFactor float64       // ±fraction applied to each delay
}

// DefaultRetryConfig matches the runtime defaults: two retries, 200ms base,
// factor 2, ±20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

// Retry runs fn until it succeeds, fails permanently, or the retry budget is
// spent. Only transient errors are retried.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for functions that return a value. On failure the
// last result is returned with the error, so callers can salvage partial
// output the final attempt produced.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var last T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after %d retries", attempt)
			}
			return result, nil
		}
		last = result
		lastErr = err

		if !IsTransient(err) {
			logger.Debug("error not transient, giving up: %v", err)
			return last, err
		}
		if attempt == config.MaxRetries {
			break
		}

		delay := backoff(attempt, config)
		logger.Debug("attempt %d failed (%v), retrying in %v", attempt+1, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return last, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return last, fmt.Errorf("retries exhausted after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// backoff computes baseDelay*2^attempt with jitter, capped at MaxDelay.
func backoff(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * config.JitterFactor * float64(delay)
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
