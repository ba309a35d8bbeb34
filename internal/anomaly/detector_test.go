package anomaly

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/reliability"
	"github.com/astraguard/astraguard/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func TestClassifyHeuristicWithoutBaseline(t *testing.T) {
	d := NewDetector(zap.NewNop(), reliability.NewHealthMonitor())
	s := telemetry.Sample{SatelliteID: "sat-1", Voltage: 8.0, Temperature: 45.0, GyroX: 0.02}
	dec := d.Classify(context.Background(), s)
	require.Equal(t, ModelHeuristic, dec.DetectorType)
	require.GreaterOrEqual(t, dec.Score, 0.3)
	require.Contains(t, dec.AnomalyType, "thermal")
}

func TestClassifyNativeWithBaseline(t *testing.T) {
	d := NewDetector(zap.NewNop(), reliability.NewHealthMonitor())
	d.LoadBaseline(&Baseline{
		SatelliteID:      "sat-1",
		MeanVector:       []float64{8, 25, 0.02, 0, 0},
		CovarianceMatrix: identity(5),
	})
	s := telemetry.Sample{SatelliteID: "sat-1", Voltage: 8.0, Temperature: 25.0, GyroX: 0.02}
	dec := d.Classify(context.Background(), s)
	require.Equal(t, ModelNative, dec.DetectorType)
	require.GreaterOrEqual(t, dec.Score, 0.0)
	require.LessOrEqual(t, dec.Score, 1.0)
}

func TestResetModelClearsLatch(t *testing.T) {
	d := NewDetector(zap.NewNop(), reliability.NewHealthMonitor())
	d.LoadBaseline(&Baseline{
		SatelliteID:      "sat-1",
		MeanVector:       []float64{1, 2},
		CovarianceMatrix: identity(2),
	})
	// Mismatched feature dimension forces a model error and latches.
	d.baselines["sat-1"].MeanVector = []float64{1}
	s := telemetry.Sample{SatelliteID: "sat-1", Voltage: 8.0, Temperature: 25.0}
	dec := d.Classify(context.Background(), s)
	require.Equal(t, ModelHeuristic, dec.DetectorType)
	require.True(t, d.isLatched())

	d.ResetModel()
	require.False(t, d.isLatched())
}

func identity(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}
