package anomaly

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/errs"
	"github.com/astraguard/astraguard/internal/reliability"
	"github.com/astraguard/astraguard/internal/telemetry"
)

// ModelKind is the pluggable AnomalyModel capability's variant tag,
// replacing the pickle-based loader named in the redesign notes.
type ModelKind string

const (
	ModelNative    ModelKind = "model"
	ModelHeuristic ModelKind = "heuristic"
)

// Decision is the detector's classification of one sample, before the
// policy engine turns it into an AnomalyDecision.
type Decision struct {
	IsAnomalous  bool
	Score        float64 // ∈ [0,1]
	Confidence   float64 // ∈ [0,1]
	AnomalyType  string
	DetectorType ModelKind
}

// Detector classifies telemetry samples. It holds an optional native
// baseline per satellite and always has a heuristic fallback available.
// Safe for concurrent use.
type Detector struct {
	mu            sync.RWMutex
	entropyWeight float64
	baselines     map[string]*Baseline // satellite_id -> baseline
	latched       bool                 // heuristic mode latched until ResetModel

	breaker *reliability.CircuitBreaker
	retry   reliability.RetryConfig

	health *reliability.HealthMonitor
	log    *zap.Logger
}

// NewDetector constructs a Detector with the default circuit breaker and
// retry configuration and registers it with the health monitor. The
// entropyWeight field is never set or read: scoring is Mahalanobis-only
// (there is no entropy signal in telemetry features).
func NewDetector(log *zap.Logger, health *reliability.HealthMonitor) *Detector {
	health.Register("anomaly_detector")
	return &Detector{
		baselines: make(map[string]*Baseline),
		breaker:   reliability.NewCircuitBreaker("anomaly_model", reliability.DefaultCircuitBreakerConfig()),
		retry:     reliability.DefaultRetryConfig(),
		health:    health,
		log:       log,
	}
}

// LoadBaseline installs a trained baseline for a satellite, computing the
// covariance inverse once (cached) rather than per call.
func (d *Detector) LoadBaseline(b *Baseline) {
	if b.InvCovariance == nil && b.CovarianceMatrix != nil {
		b.InvCovariance = InvertCovariance(b.CovarianceMatrix)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baselines[b.SatelliteID] = b
	d.health.MarkHealthy("anomaly_detector", nil)
}

// ResetModel clears the heuristic-mode latch, the only way to re-enable
// the native path after a model exception (§9 open question: latching is
// mandated, not inferred).
func (d *Detector) ResetModel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latched = false
	d.breaker = reliability.NewCircuitBreaker("anomaly_model", reliability.DefaultCircuitBreakerConfig())
}

func (d *Detector) baselineFor(satelliteID string) *Baseline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.baselines[satelliteID]
}

func (d *Detector) isLatched() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latched
}

func (d *Detector) latch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latched = true
}

// Classify runs the reliability-wrapped native model path, falling back to
// the heuristic path on a latched model, an open breaker, or any model
// exception. Classify never returns an error: a failure degrades to a
// heuristic decision and marks the detector DEGRADED.
func (d *Detector) Classify(ctx context.Context, s telemetry.Sample) Decision {
	if !d.isLatched() {
		if baseline := d.baselineFor(s.SatelliteID); baseline != nil {
			if dec, ok := d.tryNative(ctx, s, baseline); ok {
				return dec
			}
		}
	}
	return d.heuristicDecision(s)
}

func (d *Detector) tryNative(ctx context.Context, s telemetry.Sample, baseline *Baseline) (Decision, bool) {
	if !d.breaker.Allow() {
		d.health.MarkDegraded("anomaly_detector", errs.CircuitOpen("anomaly.Classify", nil), true, nil)
		return Decision{}, false
	}

	features := featureVector(s)
	var distance float64
	err := reliability.Do(ctx, d.retry, func(ctx context.Context) error {
		return reliability.WithTimeout(ctx, 2*time.Second, func(ctx context.Context) error {
			raw, err := RawDistance(features, baseline)
			if err != nil {
				return err
			}
			distance = raw
			return nil
		})
	})
	if err != nil {
		d.breaker.RecordFailure()
		d.latch()
		d.health.MarkDegraded("anomaly_detector", err, true, nil)
		d.log.Warn("native anomaly model failed, latching heuristic mode", zap.Error(err), zap.String("satellite_id", s.SatelliteID))
		return Decision{}, false
	}
	d.breaker.RecordSuccess()

	score := Squash(distance)
	return Decision{
		IsAnomalous:  score > 0.5,
		Score:        score,
		Confidence:   score,
		AnomalyType:  classify(s),
		DetectorType: ModelNative,
	}, true
}

// heuristicDecision runs the rule-based scorer. Per §4.2, any
// arithmetic/type error on this path must not propagate: recover() (Go's
// analogue, since the scorer itself takes no fallible inputs beyond plain
// float64 arithmetic) guards the call and substitutes PessimisticFallback's
// (true, 0.6) rather than letting the decision path crash.
func (d *Detector) heuristicDecision(s telemetry.Sample) Decision {
	score, anomalous := func() (score float64, anomalous bool) {
		defer func() {
			if r := recover(); r != nil {
				d.log.Warn("heuristic scorer panicked, using pessimistic fallback",
					zap.Any("recovered", r), zap.String("satellite_id", s.SatelliteID))
				score, anomalous = PessimisticFallback()
			}
		}()
		return HeuristicScore(s.Voltage, s.Temperature, s.GyroMagnitude())
	}()
	return Decision{
		IsAnomalous:  anomalous,
		Score:        score,
		Confidence:   score,
		AnomalyType:  classify(s),
		DetectorType: ModelHeuristic,
	}
}

// featureVector builds [voltage, temperature, |gyro|, current, wheel_speed].
func featureVector(s telemetry.Sample) []float64 {
	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return []float64{s.Voltage, s.Temperature, s.GyroMagnitude(), deref(s.Current), deref(s.WheelSpeed)}
}

// classify assigns a coarse anomaly_type label from which feature(s)
// dominate, used regardless of which path produced the score.
func classify(s telemetry.Sample) string {
	thermal := s.Temperature > 40
	power := s.Voltage < 7 || s.Voltage > 9
	attitude := s.GyroMagnitude() > 0.1

	switch {
	case thermal && power && attitude:
		return "combined_fault"
	case thermal && power:
		return "combined_fault"
	case thermal && attitude:
		return "combined_fault"
	case power && attitude:
		return "combined_fault"
	case thermal:
		return "thermal_fault"
	case power:
		return "power_fault"
	case attitude:
		return "attitude_fault"
	default:
		return "nominal"
	}
}
