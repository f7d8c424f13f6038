package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig contains configuration for exponential backoff.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Retry runs fn until it succeeds, the retries are exhausted or ctx is
// cancelled. Delays grow as RetryDelay * 2^(attempt-1), capped at
// MaxRetryDelay.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("render: succeeded after retries", "op", name, "retries", attempt)
			}
			return nil
		}

		attempt++
		if attempt > cfg.MaxRetries {
			return fmt.Errorf("render: %s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := backoff(attempt, cfg)
		slog.Warn("render: retrying",
			"op", name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
