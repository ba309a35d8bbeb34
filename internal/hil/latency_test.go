package hil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeStatsPercentilesFloorRule(t *testing.T) {
	// 10 values 1..10: floor(0.5*10)=5 -> sorted[5]=6, floor(0.95*10)=9 -> sorted[9]=10.
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	s := ComputeStats(durations)
	require.Equal(t, 10, s.Count)
	require.InDelta(t, 5.5, s.Mean, 1e-9)
	require.Equal(t, 1.0, s.Min)
	require.Equal(t, 10.0, s.Max)
	require.Equal(t, 6.0, s.P50)
	require.Equal(t, 10.0, s.P95)
	require.Equal(t, 10.0, s.P99)
}

func TestComputeStatsEmpty(t *testing.T) {
	require.Equal(t, Stats{}, ComputeStats(nil))
}

func TestLatencyCollectorAggregateFiltersBySatellite(t *testing.T) {
	c := NewLatencyCollector()
	c.Record(LatencyMeasurement{SatelliteID: "sat-1", DurationMS: 10})
	c.Record(LatencyMeasurement{SatelliteID: "sat-1", DurationMS: 30})
	c.Record(LatencyMeasurement{SatelliteID: "sat-2", DurationMS: 1000})

	sat1 := c.Aggregate("sat-1")
	require.Equal(t, 2, sat1.Count)
	require.InDelta(t, 20.0, sat1.Mean, 1e-9)

	all := c.Aggregate("")
	require.Equal(t, 3, all.Count)
}
