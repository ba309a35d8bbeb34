// Package handler implements the Phase-Aware Handler: the orchestrator
// that composes the state machine, the policy engine, the recurrence
// index, the bounded history, and the feedback journal into a single
// handle() call that always returns a complete AnomalyDecision.
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/decision"
	"github.com/astraguard/astraguard/internal/errs"
	"github.com/astraguard/astraguard/internal/escalation"
	"github.com/astraguard/astraguard/internal/feedback"
	"github.com/astraguard/astraguard/internal/governance"
	"github.com/astraguard/astraguard/internal/history"
	"github.com/astraguard/astraguard/internal/policy"
	"github.com/astraguard/astraguard/internal/storage"
)

// AuditSink receives durable audit ledger writes. A failure here is
// logged and otherwise ignored — the in-memory history remains the
// mandatory record (§3a).
type AuditSink interface {
	AppendLedger(entry storage.AuditLedgerEntry) error
}

// MetricsSink receives best-effort observability callbacks from the
// handler. A failure recording a metric must never affect the decision
// path, so Handler treats every call here as fire-and-forget.
type MetricsSink interface {
	RecordDecision(anomalyType string, severity policy.Severity, level policy.EscalationLevel)
}

// noopMetrics satisfies MetricsSink when the caller does not wire one.
type noopMetrics struct{}

func (noopMetrics) RecordDecision(string, policy.Severity, policy.EscalationLevel) {}

// Handler is the Phase-Aware Handler. It exclusively owns the recurrence
// index, the bounded history, and the feedback journal writer (§3).
type Handler struct {
	stateMachine *escalation.StateMachine
	policyEngine *policy.Engine
	recurrence   *RecurrenceIndex
	hist         *history.History
	journal      *feedback.Journal
	metrics      MetricsSink
	log          *zap.Logger

	// guard and auditDB, if both set, validate each decision and append
	// it (with its hash chain) to the durable audit ledger. Either may
	// be nil independently; the in-memory history is always written
	// regardless.
	guard   *governance.Guard
	auditDB AuditSink
}

// SetAuditLedger installs a governance guard and durable ledger sink.
// Every decision handled afterward is validated against the guard's
// invariants and, on success, appended to auditDB with its hash chain;
// a violation or a write failure is logged and never returned to the
// caller — the audit ledger supplements, never gates, the decision path.
func (h *Handler) SetAuditLedger(guard *governance.Guard, auditDB AuditSink) {
	h.guard = guard
	h.auditDB = auditDB
}

// New constructs a Handler. metrics may be nil, in which case decisions
// are recorded nowhere but the handler still functions correctly.
func New(sm *escalation.StateMachine, pe *policy.Engine, recurrence *RecurrenceIndex, hist *history.History, journal *feedback.Journal, metrics MetricsSink, log *zap.Logger) *Handler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Handler{
		stateMachine: sm,
		policyEngine: pe,
		recurrence:   recurrence,
		hist:         hist,
		journal:      journal,
		metrics:      metrics,
		log:          log,
	}
}

// Handle implements §4.4 steps 1-9. It returns an error only for the
// validation failures named in step 1; every other internal failure is
// absorbed into a degraded-but-complete AnomalyDecision.
func (h *Handler) Handle(ctx context.Context, anomalyType string, severityScore, confidence float64, metadata map[string]string) (decision.AnomalyDecision, error) {
	// Step 1: validate.
	if anomalyType == "" {
		return decision.AnomalyDecision{}, errs.Validation("handler.Handle", fmt.Errorf("anomaly_type must not be empty"))
	}
	if severityScore < 0 || severityScore > 1 {
		return decision.AnomalyDecision{}, errs.Validation("handler.Handle", fmt.Errorf("severity_score %.3f out of [0,1]", severityScore))
	}
	if confidence < 0 || confidence > 1 {
		return decision.AnomalyDecision{}, errs.Validation("handler.Handle", fmt.Errorf("confidence %.3f out of [0,1]", confidence))
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	// Step 2: snapshot current phase.
	phase := h.stateMachine.CurrentPhase()

	// Step 3: update recurrence index.
	now := time.Now()
	count, totalInWindow, lastOccurrence, sinceLast := h.recurrence.Record(anomalyType, now)

	// Step 4: compose attributes and evaluate policy.
	attrs := policy.RecurrenceAttributes{
		Confidence:      confidence,
		RecurrenceCount: count,
		TotalInWindow:   totalInWindow,
		Metadata:        metadata,
	}
	pd := h.policyEngine.Evaluate(phase.String(), anomalyType, severityScore, attrs)

	// Step 5: assemble the decision.
	d := decision.AnomalyDecision{
		DecisionID:          newDecisionID(now),
		Timestamp:           now,
		AnomalyType:         anomalyType,
		SeverityScore:       severityScore,
		DetectionConfidence: confidence,
		MissionPhase:        phase.String(),
		RecommendedAction:   pd.RecommendedAction,
		EscalationLevel:     pd.EscalationLevel,
		ShouldEscalate:      pd.EscalationLevel == policy.EscalationSafeMode,
		Reasoning:           pd.Reasoning,
		RecurrenceInfo: decision.RecurrenceInfo{
			Count:          count,
			TotalInWindow:  totalInWindow,
			LastOccurrence: lastOccurrence,
			TimeSinceLastS: sinceLast,
		},
		Explanation: explain(anomalyType, severityScore, confidence, pd),
	}

	// Step 6: force SAFE_MODE if required. This is unconditional — §4.4
	// step 6 and scenario S3 require every ESCALATE_SAFE_MODE decision to
	// force the transition, with no throttling of the safety path itself.
	// Failures are logged, never returned — the decision must still reach
	// the caller.
	if d.ShouldEscalate {
		res := h.stateMachine.ForceSafeMode(fmt.Sprintf("escalation triggered by %s: %s", d.DecisionID, d.Reasoning))
		if !res.Success {
			h.log.Error("force_safe_mode unexpectedly failed", zap.String("decision_id", d.DecisionID))
		}
	}

	// Step 7: metrics, best-effort.
	h.safeRecordMetric(d.AnomalyType, pd.Severity, pd.EscalationLevel)

	// Step 8: structured log + feedback journal append.
	h.log.Info("anomaly decision",
		zap.String("decision_id", d.DecisionID),
		zap.String("anomaly_type", d.AnomalyType),
		zap.String("severity", string(pd.Severity)),
		zap.String("escalation_level", string(d.EscalationLevel)),
		zap.String("mission_phase", d.MissionPhase),
	)
	if err := h.journal.Append(decision.FeedbackEvent{
		FaultID:        d.DecisionID,
		AnomalyType:    d.AnomalyType,
		RecoveryAction: d.RecommendedAction,
		MissionPhase:   d.MissionPhase,
		Timestamp:      d.Timestamp,
		Confidence:     d.DetectionConfidence,
	}); err != nil {
		h.log.Warn("feedback journal append failed", zap.Error(err), zap.String("decision_id", d.DecisionID))
	}

	h.appendAuditLedger(d)

	// Bounded history append (not mandatory per §8 S1, harmless to always do).
	h.hist.Append(d)

	// Step 9: return.
	return d, nil
}

func (h *Handler) appendAuditLedger(d decision.AnomalyDecision) {
	if h.guard == nil || h.auditDB == nil {
		return
	}
	hash, parent, err := h.guard.ValidateDecision(d)
	if err != nil {
		h.log.Warn("decision failed integrity guard, skipping audit ledger write", zap.Error(err), zap.String("decision_id", d.DecisionID))
		return
	}
	entry := storage.AuditLedgerEntry{
		Timestamp:         d.Timestamp,
		DecisionID:        d.DecisionID,
		AnomalyType:       d.AnomalyType,
		SeverityScore:     d.SeverityScore,
		MissionPhase:      d.MissionPhase,
		RecommendedAction: d.RecommendedAction,
		EscalationLevel:   string(d.EscalationLevel),
		ShouldEscalate:    d.ShouldEscalate,
		DecisionHash:      hash,
		ParentHash:        parent,
	}
	if err := h.auditDB.AppendLedger(entry); err != nil {
		h.log.Warn("audit ledger append failed", zap.Error(err), zap.String("decision_id", d.DecisionID))
	}
}

func (h *Handler) safeRecordMetric(anomalyType string, severity policy.Severity, level policy.EscalationLevel) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("metrics recording panicked, ignoring", zap.Any("recover", r))
		}
	}()
	h.metrics.RecordDecision(anomalyType, severity, level)
}

func explain(anomalyType string, severityScore, confidence float64, pd policy.Decision) string {
	return fmt.Sprintf("%s classified as %s (score=%.3f, confidence=%.3f): %s",
		anomalyType, pd.Severity, severityScore, confidence, pd.Reasoning)
}

func newDecisionID(t time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("DECISION_%d_%s", t.UnixMilli(), hex.EncodeToString(buf[:]))
}
