// Package governance enforces a small set of invariants on every
// AnomalyDecision before it is appended to the durable audit ledger.
//
// A decision that passes ValidateDecision is:
//  1. Deterministic — its canonical hash is reproducible from its inputs.
//  2. Bounded — every numeric field sits within its documented domain.
//  3. Evidenced — reasoning and anomaly_type are non-empty.
//  4. Time-ordered — its timestamp does not precede the previous decision.
//  5. Chained — its hash links to the previous decision's hash, so the
//     ledger can be walked and any retroactive edit detected.
//
// None of this is an authoritative access-control system; it is a last
// line of defense against a malformed or corrupted decision reaching
// durable storage.
package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/decision"
)

// ViolationType identifies which invariant a decision failed.
type ViolationType string

const (
	ViolationNonMonotonicTime   ViolationType = "non_monotonic_time"
	ViolationUnboundedParameter ViolationType = "unbounded_parameter"
	ViolationMissingEvidence    ViolationType = "missing_evidence"
	ViolationNaNInf             ViolationType = "nan_inf_detected"
)

// Violation describes a single invariant failure.
type Violation struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	DecisionID string       `json:"decision_id"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("decision integrity violation [%s]: %s (decision_id=%s)", v.Type, v.Message, v.DecisionID)
}

// Bounds defines the allowed ranges for decision fields.
type Bounds struct {
	SeverityMin, SeverityMax     float64
	ConfidenceMin, ConfidenceMax float64
	TimestampSkewTolerance       time.Duration
}

// DefaultBounds returns the production bounds for AnomalyDecision fields.
func DefaultBounds() Bounds {
	return Bounds{
		SeverityMin:            0.0,
		SeverityMax:            1.0,
		ConfidenceMin:          0.0,
		ConfidenceMax:          1.0,
		TimestampSkewTolerance: 5 * time.Second,
	}
}

// Guard enforces the invariants above on a stream of decisions before
// they reach the durable audit ledger (§6a).
type Guard struct {
	mu               sync.Mutex
	bounds           Bounds
	lastTimestamp    time.Time
	lastDecisionHash string
	violationCount   int64
	verifiedCount    int64
	log              *zap.Logger
	strict           bool // panics on violation; tests only
}

// NewGuard constructs a Guard with default bounds.
func NewGuard(log *zap.Logger, strict bool) *Guard {
	g := &Guard{
		bounds: DefaultBounds(),
		log:    log,
		strict: strict,
	}
	log.Info("decision integrity guard initialized",
		zap.Bool("strict_mode", strict),
		zap.Duration("time_skew_tolerance", g.bounds.TimestampSkewTolerance),
	)
	return g
}

// ValidateDecision checks d against the invariants and, on success,
// returns d's canonical hash (over its id, type, scores, phase,
// escalation level and timestamp; reasoning is not hashed) as
// DecisionHash and the previously validated decision's hash as
// ParentHash. The guard's internal chain state advances only on success.
func (g *Guard) ValidateDecision(d decision.AnomalyDecision) (DecisionHash string, ParentHash string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastTimestamp.IsZero() && d.Timestamp.Before(g.lastTimestamp) {
		return "", "", g.handleViolation(&Violation{
			Type:       ViolationNonMonotonicTime,
			Message:    fmt.Sprintf("decision timestamp %s precedes previous %s", d.Timestamp.Format(time.RFC3339Nano), g.lastTimestamp.Format(time.RFC3339Nano)),
			Timestamp:  time.Now(),
			DecisionID: d.DecisionID,
		})
	}

	if math.IsNaN(d.SeverityScore) || math.IsInf(d.SeverityScore, 0) || math.IsNaN(d.DetectionConfidence) || math.IsInf(d.DetectionConfidence, 0) {
		return "", "", g.handleViolation(&Violation{
			Type:       ViolationNaNInf,
			Message:    fmt.Sprintf("severity=%v confidence=%v", d.SeverityScore, d.DetectionConfidence),
			Timestamp:  time.Now(),
			DecisionID: d.DecisionID,
		})
	}

	if d.SeverityScore < g.bounds.SeverityMin || d.SeverityScore > g.bounds.SeverityMax {
		return "", "", g.handleViolation(&Violation{
			Type:       ViolationUnboundedParameter,
			Message:    fmt.Sprintf("severity_score %.3f outside [%.2f, %.2f]", d.SeverityScore, g.bounds.SeverityMin, g.bounds.SeverityMax),
			Timestamp:  time.Now(),
			DecisionID: d.DecisionID,
		})
	}
	if d.DetectionConfidence < g.bounds.ConfidenceMin || d.DetectionConfidence > g.bounds.ConfidenceMax {
		return "", "", g.handleViolation(&Violation{
			Type:       ViolationUnboundedParameter,
			Message:    fmt.Sprintf("detection_confidence %.3f outside [%.2f, %.2f]", d.DetectionConfidence, g.bounds.ConfidenceMin, g.bounds.ConfidenceMax),
			Timestamp:  time.Now(),
			DecisionID: d.DecisionID,
		})
	}

	if d.Reasoning == "" || d.AnomalyType == "" {
		return "", "", g.handleViolation(&Violation{
			Type:       ViolationMissingEvidence,
			Message:    "decision missing reasoning or anomaly_type",
			Timestamp:  time.Now(),
			DecisionID: d.DecisionID,
		})
	}

	hash, err := canonicalHash(d)
	if err != nil {
		return "", "", fmt.Errorf("governance.ValidateDecision: hash decision: %w", err)
	}

	parent := g.lastDecisionHash
	g.lastDecisionHash = hash
	g.lastTimestamp = d.Timestamp
	g.verifiedCount++

	g.log.Debug("decision validated",
		zap.String("decision_id", d.DecisionID),
		zap.String("hash", hash[:16]),
		zap.Int64("verified_count", g.verifiedCount),
	)

	return hash, parent, nil
}

func canonicalHash(d decision.AnomalyDecision) (string, error) {
	canonical := map[string]interface{}{
		"decision_id":       d.DecisionID,
		"anomaly_type":      d.AnomalyType,
		"severity_score":    fmt.Sprintf("%.8f", d.SeverityScore),
		"confidence":        fmt.Sprintf("%.8f", d.DetectionConfidence),
		"mission_phase":     d.MissionPhase,
		"escalation_level":  d.EscalationLevel,
		"timestamp":         d.Timestamp.UnixNano(),
	}
	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

func (g *Guard) handleViolation(v *Violation) error {
	g.violationCount++
	g.log.Error("decision integrity violation",
		zap.String("type", string(v.Type)),
		zap.String("message", v.Message),
		zap.String("decision_id", v.DecisionID),
		zap.Int64("total_violations", g.violationCount),
	)
	if g.strict {
		panic(fmt.Sprintf("decision integrity violation in strict mode: %v", v))
	}
	return v
}

// Stats summarizes the guard's lifetime activity.
type Stats struct {
	DecisionsVerified int64  `json:"decisions_verified"`
	ViolationCount    int64  `json:"violation_count"`
	LastDecisionHash  string `json:"last_decision_hash"`
}

// GetStats returns the current guard statistics.
func (g *Guard) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		DecisionsVerified: g.verifiedCount,
		ViolationCount:    g.violationCount,
		LastDecisionHash:  g.lastDecisionHash,
	}
}
