package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	apperrors "github.com/kbukum/discoverykit/errors"
)

// RetryConfig configures a bounded retry loop.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Backoff is the delay curve between attempts.
	Backoff BackoffConfig
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns three attempts on the default backoff curve.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     DefaultBackoffConfig(),
		RetryIf:     DefaultRetryIf,
	}
}

// DefaultRetryIf honours the retryable flag of AppErrors and never retries a
// bare context error.
func DefaultRetryIf(err error) bool {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Retryable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. The last error is returned on exhaustion.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	cfg.Backoff.ApplyDefaults()
	if cfg.RetryIf == nil {
		cfg.RetryIf = DefaultRetryIf
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.Backoff.Delay(attempt, rnd.Float64)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}
		if err := Sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// RetryFunc executes a function that returns only an error.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
