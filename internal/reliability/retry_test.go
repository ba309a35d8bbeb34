package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryDelayWithinBounds(t *testing.T) {
	cfg := DefaultRetryConfig()
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		max := cfg.ComputedDelay(attempt)
		for i := 0; i < 50; i++ {
			d := jitter(max)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, max)
		}
	}
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("persistent")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	sentinel := errors.New("fatal")
	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		IsRetryable: func(err error) bool { return !errors.Is(err, sentinel) },
	}
	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestRetrySucceedsBeforeExhaustion(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}
