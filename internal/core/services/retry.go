package services

import (
	"context"
	"time"

	"possync/internal/core/domain"
)

// RetryConfig controls retries of single writes and reads on transient
// transport errors.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 3)
	InitialWait time.Duration // wait before first retry (default: 200ms)
	MaxWait     time.Duration // maximum wait between retries (default: 5s)
	Multiplier  float64       // backoff multiplier (default: 2.0)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}
}

// WithRetry runs fn until it succeeds, returns a non-transient error, or the
// attempts run out. fn must return classified errors.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	wait := cfg.InitialWait
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var result T
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !domain.Transient(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, err
		case <-time.After(wait):
		}
		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
	return zero, err
}
