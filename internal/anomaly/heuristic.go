package anomaly

import "math/rand"

// HeuristicScore implements the fallback rule-based scorer from §4.2:
// +0.4 if voltage outside [7,9]V, +0.3 if temperature > 40°C, +0.3 if
// |gyro| > 0.1 rad/s, plus uniform noise in [0, 0.1). is_anomalous iff
// score > 0.5.
func HeuristicScore(voltage, temperature, gyroMagnitude float64) (score float64, isAnomalous bool) {
	if voltage < 7 || voltage > 9 {
		score += 0.4
	}
	if temperature > 40 {
		score += 0.3
	}
	if gyroMagnitude > 0.1 {
		score += 0.3
	}
	score += rand.Float64() * 0.1
	if score > 1 {
		score = 1
	}
	return score, score > 0.5
}

// PessimisticFallback is returned when the heuristic path itself hits an
// arithmetic/type error: the spec mandates defaulting to (true, 0.6).
func PessimisticFallback() (score float64, isAnomalous bool) {
	return 0.6, true
}
