// Package retry runs operations again with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"ringrelay/internal/constants"
	"ringrelay/internal/models"
)

// ErrExhausted wraps the last error once every attempt has failed
var ErrExhausted = errors.New("retry attempts exhausted")

type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultStartupMaxAttempts,
		Jitter:       true,
	}
}

// FromConfig fills the defaults in for anything the config leaves unset
func FromConfig(cfg models.RetryConfig) BackoffConfig {
	c := DefaultBackoffConfig()
	if cfg.InitialBackoffMs > 0 {
		c.InitialDelay = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		c.MaxDelay = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.MaxAttempts > 0 {
		c.MaxAttempts = cfg.MaxAttempts
	}
	return c
}

// Backoff retries with exponentially growing, optionally jittered, delays
type Backoff struct {
	config    BackoffConfig
	retryable func(error) bool
	onRetry   func(attempt int, delay time.Duration, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Backoff)

// If restricts retries to errors the predicate accepts; others return at once
func If(retryable func(error) bool) Option {
	return func(b *Backoff) { b.retryable = retryable }
}

// OnRetry is called before each wait, e.g. to log the failed attempt
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(b *Backoff) { b.onRetry = fn }
}

func NewBackoff(config BackoffConfig, opts ...Option) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	b := &Backoff{config: config, sleep: sleepContext}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Retry runs operation until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func (b *Backoff) Retry(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if b.retryable != nil && !b.retryable(err) {
			return err
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		delay := b.Delay(attempt)
		if b.onRetry != nil {
			b.onRetry(attempt, delay, err)
		}
		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, b.config.MaxAttempts, lastErr)
}

// Delay is the wait after the given failed attempt, counting from 1
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt && delay < float64(b.config.MaxDelay); i++ {
		delay *= b.config.Multiplier
	}
	if max := float64(b.config.MaxDelay); max > 0 && delay > max {
		delay = max
	}

	if b.config.Jitter {
		// ±25%
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if max := float64(b.config.MaxDelay); max > 0 && delay > max {
			delay = max
		}
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
