package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("detector", CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	failing := errors.New("boom")
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, cb.Call(func() error { return failing }), failing)
		require.Equal(t, CircuitClosed, cb.State())
	}
	require.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	require.Equal(t, CircuitOpen, cb.State())

	require.ErrorIs(t, cb.Call(func() error { return nil }), ErrOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("detector", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	require.Error(t, cb.Call(func() error { return errors.New("x") }))
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
	require.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("detector", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})
	require.Error(t, cb.Call(func() error { return errors.New("x") }))
	time.Sleep(15 * time.Millisecond)
	require.Error(t, cb.Call(func() error { return errors.New("y") }))
	require.Equal(t, CircuitOpen, cb.State())
}
