// Package decision defines the AnomalyDecision, RecurrenceInfo, and
// FeedbackEvent types shared by the handler, bounded history, feedback
// journal, and HTTP boundary — the data model's §3 schemas expressed as
// concrete Go structs rather than dynamic dicts, per the redesign notes.
package decision

import (
	"github.com/astraguard/astraguard/internal/policy"
	"time"
)

// RecurrenceInfo is the per-anomaly-type recurrence signal attached to a
// decision.
type RecurrenceInfo struct {
	Count          int       `json:"count"`
	TotalInWindow  int       `json:"total_in_window"`
	LastOccurrence time.Time `json:"last_occurrence"`
	TimeSinceLastS float64   `json:"time_since_last_s"`
}

// AnomalyDecision is the immutable record produced once per handled
// sample. Every field is always populated (universal invariant 1).
type AnomalyDecision struct {
	DecisionID         string                 `json:"decision_id"`
	Timestamp          time.Time              `json:"timestamp"`
	AnomalyType        string                 `json:"anomaly_type"`
	SeverityScore      float64                `json:"severity_score"`
	DetectionConfidence float64               `json:"detection_confidence"`
	MissionPhase       string                 `json:"mission_phase"`
	RecommendedAction  string                 `json:"recommended_action"`
	EscalationLevel    policy.EscalationLevel `json:"escalation_level"`
	ShouldEscalate     bool                   `json:"should_escalate"`
	Reasoning          string                 `json:"reasoning"`
	RecurrenceInfo     RecurrenceInfo         `json:"recurrence_info"`
	Explanation        string                 `json:"explanation"`
}

// FeedbackEvent is the append-only journal record written at decision
// time and later labelled by an operator.
type FeedbackEvent struct {
	FaultID        string    `json:"fault_id"`
	AnomalyType    string    `json:"anomaly_type"`
	RecoveryAction string    `json:"recovery_action"`
	MissionPhase   string    `json:"mission_phase"`
	Timestamp      time.Time `json:"timestamp"`
	Confidence     float64   `json:"confidence"`
	Label          string    `json:"label,omitempty"` // "correct" | "insufficient" | "wrong"
	Notes          string    `json:"notes,omitempty"`
}
