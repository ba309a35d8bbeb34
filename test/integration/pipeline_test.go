// Package integration exercises the full ingest -> detect -> decide
// pipeline across the component boundaries the unit suites stub
// individually: telemetry validation, the anomaly detector, the
// mission-phase policy engine, the phase-aware handler, and the bounded
// history, wired together the way cmd/astraguard/main.go wires them.
package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/anomaly"
	"github.com/astraguard/astraguard/internal/escalation"
	"github.com/astraguard/astraguard/internal/feedback"
	"github.com/astraguard/astraguard/internal/handler"
	"github.com/astraguard/astraguard/internal/history"
	"github.com/astraguard/astraguard/internal/policy"
	"github.com/astraguard/astraguard/internal/reliability"
	"github.com/astraguard/astraguard/internal/telemetry"
)

type pipeline struct {
	handler *handler.Handler
	detector *anomaly.Detector
	sm       *escalation.StateMachine
	hist     *history.History
}

func newPipeline(t *testing.T, histCapacity int) pipeline {
	t.Helper()
	log := zap.NewNop()

	sm := escalation.NewStateMachine()
	_, _ = sm.SetPhase(escalation.PhaseDeployment, false, "")
	_, _ = sm.SetPhase(escalation.PhaseNominalOps, false, "")

	pe := policy.NewEngine(&policy.PhasePolicy{Phases: map[string]policy.PhaseRule{
		"NOMINAL_OPS": {
			AllowedActions:      map[string]bool{"NO_ACTION": true, "MONITOR": true, "MITIGATE": true, "ENTER_SAFE_MODE": true},
			ForbiddenActions:    map[string]bool{},
			ThresholdMultiplier: 1.0,
			EscalationRules: []policy.EscalationRule{
				{AnomalyType: "*", MinSeverity: policy.SeverityLow, Level: policy.EscalationLog},
				{AnomalyType: "thermal_fault", MinSeverity: policy.SeverityMedium, Level: policy.EscalationWarn, RecurrenceThreshold: 3},
			},
		},
	}})

	j := feedback.Open(t.TempDir()+"/journal.json", log)
	hist := history.New(histCapacity)
	h := handler.New(sm, pe, handler.NewRecurrenceIndex(time.Hour), hist, j, nil, log)

	health := reliability.NewHealthMonitor()
	det := anomaly.NewDetector(log, health)
	return pipeline{handler: h, detector: det, sm: sm, hist: hist}
}

// S1 — a nominal sample in NOMINAL_OPS produces a NO_ACTION, non-escalating
// decision with no phase change.
func TestPipeline_S1_NormalSample(t *testing.T) {
	p := newPipeline(t, 100)
	ctx := context.Background()

	s := telemetry.Sample{SatelliteID: "sat-1", Voltage: 8.0, Temperature: 25.0, GyroX: 0.02}
	require.NoError(t, telemetry.Validate(&s, telemetry.DefaultBounds()))

	dec := p.detector.Classify(ctx, s)
	require.Equal(t, anomaly.ModelHeuristic, dec.DetectorType)
	require.Less(t, dec.Score, 0.5)

	d, err := p.handler.Handle(ctx, dec.AnomalyType, dec.Score, dec.Confidence, nil)
	require.NoError(t, err)
	require.Equal(t, "NO_ACTION", d.RecommendedAction)
	require.False(t, d.ShouldEscalate)
	require.Equal(t, escalation.PhaseNominalOps, p.sm.CurrentPhase())
}

// S3 — a critical combined fault forces SAFE_MODE and the decision's
// reasoning names the anomaly type that triggered it.
func TestPipeline_S3_CriticalCombinedFaultForcesSafeMode(t *testing.T) {
	p := newPipeline(t, 100)
	ctx := context.Background()

	s := telemetry.Sample{SatelliteID: "sat-1", Voltage: 6.0, Temperature: 55.0, GyroX: 0.3}
	require.NoError(t, telemetry.Validate(&s, telemetry.DefaultBounds()))

	dec := p.detector.Classify(ctx, s)
	require.True(t, dec.IsAnomalous)
	require.Equal(t, "combined_fault", dec.AnomalyType)

	d, err := p.handler.Handle(ctx, dec.AnomalyType, dec.Score, dec.Confidence, nil)
	require.NoError(t, err)
	require.True(t, d.ShouldEscalate)
	require.Equal(t, policy.EscalationSafeMode, d.EscalationLevel)
	require.Equal(t, escalation.PhaseSafeMode, p.sm.CurrentPhase())
	require.Contains(t, d.Reasoning, "combined_fault")
}

// S4 — the same anomaly type submitted three times within the recurrence
// window escalates on the third occurrence even at a severity that alone
// would only WARN.
func TestPipeline_S4_RecurrenceEscalatesOnThirdOccurrence(t *testing.T) {
	p := newPipeline(t, 100)
	ctx := context.Background()

	var lastEscalate bool
	var lastTotalInWindow int
	for i := 0; i < 3; i++ {
		d, err := p.handler.Handle(ctx, "thermal_fault", 0.7, 0.9, nil)
		require.NoError(t, err)
		lastEscalate = d.ShouldEscalate
		lastTotalInWindow = d.RecurrenceInfo.TotalInWindow
		if i < 2 {
			require.False(t, d.ShouldEscalate, "occurrence %d should not escalate yet", i+1)
		}
	}
	require.True(t, lastEscalate)
	require.Equal(t, 3, lastTotalInWindow)
}

// S6 — submitting more anomalies than the bounded history's capacity
// evicts the oldest entries, retaining exactly the most recent ones.
func TestPipeline_S6_BoundedHistoryEviction(t *testing.T) {
	const capacity = 50
	p := newPipeline(t, capacity)
	ctx := context.Background()

	const total = capacity + 5
	var ids []string
	for i := 0; i < total; i++ {
		d, err := p.handler.Handle(ctx, "nominal", 0.1, 0.9, nil)
		require.NoError(t, err)
		ids = append(ids, d.DecisionID)
	}

	require.Equal(t, capacity, p.hist.Len())
	snapshot := p.hist.Run(history.Query{Limit: history.MaxQueryLimit})
	require.Len(t, snapshot, capacity)
	require.Equal(t, ids[len(ids)-1], snapshot[0].DecisionID, "newest entry first")
	require.Equal(t, ids[total-capacity], snapshot[len(snapshot)-1].DecisionID, "oldest retained is the (total-capacity+1)th submitted")
}
