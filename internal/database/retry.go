package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ringrelay/internal/constants"
	"ringrelay/internal/retry"
)

var lockBackoff = retry.BackoffConfig{
	InitialDelay: 25 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// withRetry runs a write, retrying only transient SQLite lock errors
func withRetry(ctx context.Context, operationName string, operation func() error) error {
	var lastErr error
	b := retry.NewBackoff(lockBackoff, retry.If(isRetryableDBError))
	err := b.Retry(ctx, func(context.Context) error {
		lastErr = operation()
		return lastErr
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, lockBackoff.MaxAttempts, lastErr)
	}
	return err
}

func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
