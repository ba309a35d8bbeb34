package reliability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthMonitorTransitionsAreIdempotentAndLogged(t *testing.T) {
	h := NewHealthMonitor()
	h.Register("detector")
	h.MarkDegraded("detector", errors.New("model unavailable"), true, nil)
	h.MarkDegraded("detector", errors.New("model unavailable"), true, nil)

	all := h.GetAll()
	require.Equal(t, HealthDegraded, all["detector"].Status)
	require.Equal(t, 2, all["detector"].ErrorCount)
	require.Equal(t, HealthDegraded, h.WorstStatus())

	h.MarkFailed("detector", errors.New("fatal"))
	require.Equal(t, HealthFailed, h.WorstStatus())

	h.MarkHealthy("detector", nil)
	require.Equal(t, HealthHealthy, h.WorstStatus())
}
