// Package telemetry defines the TelemetrySample boundary type and the
// parameter-bounds validation applied to every sample at ingest, grounded
// in the same bounded-parameter style the teacher's constitutional kernel
// used for its own decision inputs.
package telemetry

import (
	"fmt"
	"math"
	"time"

	"github.com/astraguard/astraguard/internal/errs"
)

// Sample is a single telemetry reading from a spacecraft or simulator.
// Immutable once constructed; discarded after a decision unless retained
// in a FeedbackEvent.
type Sample struct {
	SatelliteID string    `json:"satellite_id"`
	Voltage     float64   `json:"voltage"`
	Temperature float64   `json:"temperature"`
	GyroX       float64   `json:"gyro_x"`
	GyroY       float64   `json:"gyro_y"`
	GyroZ       float64   `json:"gyro_z"`
	Current     *float64  `json:"current,omitempty"`
	WheelSpeed  *float64  `json:"wheel_speed,omitempty"`
	CPUPercent  *float64  `json:"cpu_percent,omitempty"`
	MemPercent  *float64  `json:"mem_percent,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bounds holds the allowed ranges for sample fields, enforced at the
// ingest boundary. The API server uses DefaultBounds; no config setting
// overrides them.
type Bounds struct {
	VoltageMin, VoltageMax         float64
	TemperatureMin, TemperatureMax float64
	GyroAbsMax                     float64
	PercentMin, PercentMax         float64
}

// DefaultBounds returns the ranges named in the data model: voltage in
// [0,50]V, temperature in [-100,150]°C, percentages in [0,100].
func DefaultBounds() Bounds {
	return Bounds{
		VoltageMin:     0,
		VoltageMax:     50,
		TemperatureMin: -100,
		TemperatureMax: 150,
		GyroAbsMax:     1e9, // gyro itself is unbounded; only sign/magnitude feed scoring.
		PercentMin:     0,
		PercentMax:     100,
	}
}

// GyroMagnitude returns |gyro|, the Euclidean norm of the three axes.
func (s Sample) GyroMagnitude() float64 {
	return math.Sqrt(s.GyroX*s.GyroX + s.GyroY*s.GyroY + s.GyroZ*s.GyroZ)
}

// Validate enforces the boundary invariants and normalizes Timestamp to
// now when zero. Returns a ValidationError-kind error on the first
// violation class found; the message lists every violation.
func Validate(s *Sample, b Bounds) error {
	var violations []string

	if s.SatelliteID == "" {
		violations = append(violations, "satellite_id must not be empty")
	}
	if s.Voltage < b.VoltageMin || s.Voltage > b.VoltageMax {
		violations = append(violations, fmt.Sprintf("voltage %.3f out of range [%.1f,%.1f]", s.Voltage, b.VoltageMin, b.VoltageMax))
	}
	if s.Temperature < b.TemperatureMin || s.Temperature > b.TemperatureMax {
		violations = append(violations, fmt.Sprintf("temperature %.3f out of range [%.1f,%.1f]", s.Temperature, b.TemperatureMin, b.TemperatureMax))
	}
	if p := s.Current; p != nil && *p < 0 {
		violations = append(violations, "current must be >= 0")
	}
	if p := s.WheelSpeed; p != nil && *p < 0 {
		violations = append(violations, "wheel_speed must be >= 0")
	}
	if p := s.CPUPercent; p != nil && (*p < b.PercentMin || *p > b.PercentMax) {
		violations = append(violations, fmt.Sprintf("cpu_percent %.3f out of range [0,100]", *p))
	}
	if p := s.MemPercent; p != nil && (*p < b.PercentMin || *p > b.PercentMax) {
		violations = append(violations, fmt.Sprintf("mem_percent %.3f out of range [0,100]", *p))
	}

	if len(violations) > 0 {
		return errs.Validation("telemetry.Validate", fmt.Errorf("%v", violations))
	}

	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	return nil
}
