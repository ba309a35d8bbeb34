package hil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruthAtBinarySearch(t *testing.T) {
	a := NewAccuracyCollector()
	a.LoadGroundTruth("sat-1", []GroundTruthEvent{
		{SatelliteID: "sat-1", TimestampMs: 1000, FaultType: "thermal_fault"},
		{SatelliteID: "sat-1", TimestampMs: 5000, FaultType: "power_fault"},
	})

	require.Equal(t, NominalFaultType, a.TruthAt("sat-1", 500))
	require.Equal(t, "thermal_fault", a.TruthAt("sat-1", 1000))
	require.Equal(t, "thermal_fault", a.TruthAt("sat-1", 4999))
	require.Equal(t, "power_fault", a.TruthAt("sat-1", 5000))
	require.Equal(t, "power_fault", a.TruthAt("sat-1", 999999))
	require.Equal(t, NominalFaultType, a.TruthAt("unknown-sat", 1000))
}

func TestScorePerFaultTypeAndConfusion(t *testing.T) {
	a := NewAccuracyCollector()
	a.LoadGroundTruth("sat-1", []GroundTruthEvent{
		{SatelliteID: "sat-1", TimestampMs: 0, FaultType: "thermal_fault"},
	})

	predictions := []Prediction{
		{SatelliteID: "sat-1", TimestampMs: 10, FaultType: "thermal_fault", Confidence: 0.9}, // TP
		{SatelliteID: "sat-1", TimestampMs: 20, FaultType: "thermal_fault", Confidence: 0.8}, // TP
		{SatelliteID: "sat-1", TimestampMs: 30, FaultType: "power_fault", Confidence: 0.7},   // FP for power_fault, FN for thermal_fault
	}

	report := a.Score(predictions)
	thermal := report.PerFaultType["thermal_fault"]
	require.Equal(t, 2, thermal.TruePositives)
	require.Equal(t, 1, thermal.FalseNegatives)
	require.Equal(t, 0, thermal.FalsePositives)
	require.InDelta(t, 1.0, thermal.Precision, 1e-9)
	require.InDelta(t, 2.0/3.0, thermal.Recall, 1e-9)

	power := report.PerFaultType["power_fault"]
	require.Equal(t, 0, power.TruePositives)
	require.Equal(t, 1, power.FalsePositives)
	require.Equal(t, 0, power.FalseNegatives)
	require.InDelta(t, 0.0, power.Precision, 1e-9)

	require.Equal(t, 2, report.Confusion["thermal_fault"]["thermal_fault"])
	require.Equal(t, 1, report.Confusion["thermal_fault"]["power_fault"])
}
