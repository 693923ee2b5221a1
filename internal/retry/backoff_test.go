package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringrelay/internal/models"
)

var errTransient = errors.New("connection refused")

// newInstantBackoff records the waits instead of sleeping
func newInstantBackoff(cfg BackoffConfig, opts ...Option) (*Backoff, *[]time.Duration) {
	var waits []time.Duration
	b := NewBackoff(cfg, opts...)
	b.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return b, &waits
}

func TestFromConfig(t *testing.T) {
	defaults := DefaultBackoffConfig()
	assert.Equal(t, defaults, FromConfig(models.RetryConfig{}))

	cfg := FromConfig(models.RetryConfig{InitialBackoffMs: 50, MaxBackoffMs: 2000, MaxAttempts: 7})
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
}

func TestBackoff_Delay(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 10})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_DelayJitterStaysInRange(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 400 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 3, Jitter: true})

	for i := 0; i < 200; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, b.Delay(3), time.Second)
	}
}

func TestBackoff_Retry(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 4}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var retried []int
		b, waits := newInstantBackoff(cfg, OnRetry(func(attempt int, _ time.Duration, err error) {
			retried = append(retried, attempt)
			assert.ErrorIs(t, err, errTransient)
		}))

		calls := 0
		err := b.Retry(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
	})

	t.Run("exhausted", func(t *testing.T) {
		b, waits := newInstantBackoff(cfg)

		calls := 0
		err := b.Retry(context.Background(), func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Contains(t, err.Error(), "after 4 attempts")
		assert.Equal(t, 4, calls)
		assert.Len(t, *waits, 3, "no wait after the last attempt")
	})

	t.Run("non retryable error returns at once", func(t *testing.T) {
		fatal := errors.New("bad credentials")
		b, waits := newInstantBackoff(cfg, If(func(err error) bool { return errors.Is(err, errTransient) }))

		calls := 0
		err := b.Retry(context.Background(), func(context.Context) error {
			calls++
			return fatal
		})
		assert.Same(t, fatal, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *waits)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b, _ := newInstantBackoff(cfg)
		calls := 0
		err := b.Retry(ctx, func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}

func TestBackoff_RealSleepHonoursCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2, MaxAttempts: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Retry(ctx, func(context.Context) error { return errTransient })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewBackoff_ClampsConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{MaxAttempts: 0, Multiplier: 0})
	assert.Equal(t, 1, b.config.MaxAttempts)
	assert.Equal(t, float64(1), b.config.Multiplier)
}
