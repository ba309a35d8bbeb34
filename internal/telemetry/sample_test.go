package telemetry

import (
	"testing"

	"github.com/astraguard/astraguard/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsNominalSample(t *testing.T) {
	s := &Sample{SatelliteID: "sat-1", Voltage: 8.0, Temperature: 25.0, GyroX: 0.02}
	require.NoError(t, Validate(s, DefaultBounds()))
	require.False(t, s.Timestamp.IsZero())
}

func TestValidateRejectsOutOfRangeVoltage(t *testing.T) {
	s := &Sample{SatelliteID: "sat-1", Voltage: 999, Temperature: 25.0}
	err := Validate(s, DefaultBounds())
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestGyroMagnitude(t *testing.T) {
	s := Sample{GyroX: 3, GyroY: 4}
	require.InDelta(t, 5.0, s.GyroMagnitude(), 1e-9)
}
