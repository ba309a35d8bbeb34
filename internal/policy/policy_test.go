package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePolicy() *PhasePolicy {
	return &PhasePolicy{
		Phases: map[string]PhaseRule{
			"NOMINAL_OPS": {
				AllowedActions:      map[string]bool{"MONITOR": true, "MITIGATE": true, "NO_ACTION": true},
				ForbiddenActions:    map[string]bool{},
				ThresholdMultiplier: 1.0,
				EscalationRules: []EscalationRule{
					{AnomalyType: "*", MinSeverity: SeverityLow, Level: EscalationLog},
					{AnomalyType: "thermal_fault", MinSeverity: SeverityMedium, Level: EscalationWarn, RecurrenceThreshold: 3},
				},
			},
		},
	}
}

func TestEvaluateNominalSampleIsLowSeverity(t *testing.T) {
	e := NewEngine(samplePolicy())
	d := e.Evaluate("NOMINAL_OPS", "nominal", 0.1, RecurrenceAttributes{})
	require.Equal(t, SeverityLow, d.Severity)
	require.Equal(t, "NO_ACTION", d.RecommendedAction)
}

func TestEvaluateCriticalForcesSafeMode(t *testing.T) {
	e := NewEngine(samplePolicy())
	d := e.Evaluate("NOMINAL_OPS", "combined_fault", 0.9, RecurrenceAttributes{})
	require.Equal(t, SeverityCritical, d.Severity)
	require.Equal(t, EscalationSafeMode, d.EscalationLevel)
	require.Equal(t, "ENTER_SAFE_MODE", d.RecommendedAction)
}

func TestEvaluateRecurrenceForcesSafeMode(t *testing.T) {
	e := NewEngine(samplePolicy())
	d1 := e.Evaluate("NOMINAL_OPS", "thermal_fault", 0.7, RecurrenceAttributes{TotalInWindow: 1})
	require.Equal(t, EscalationWarn, d1.EscalationLevel)
	d2 := e.Evaluate("NOMINAL_OPS", "thermal_fault", 0.7, RecurrenceAttributes{TotalInWindow: 2})
	require.Equal(t, EscalationWarn, d2.EscalationLevel)
	d3 := e.Evaluate("NOMINAL_OPS", "thermal_fault", 0.7, RecurrenceAttributes{TotalInWindow: 3})
	require.Equal(t, EscalationSafeMode, d3.EscalationLevel)
}

func TestEvaluateUnknownPhaseIsPermissiveWarn(t *testing.T) {
	e := NewEngine(samplePolicy())
	d := e.Evaluate("UNKNOWN_PHASE", "thermal_fault", 0.5, RecurrenceAttributes{})
	require.Equal(t, EscalationWarn, d.EscalationLevel)
}

func TestEvaluateForbiddenActionSubstituted(t *testing.T) {
	policy := samplePolicy()
	rule := policy.Phases["NOMINAL_OPS"]
	rule.ForbiddenActions["NO_ACTION"] = true
	rule.AllowedActions = map[string]bool{"MONITOR": true}
	policy.Phases["NOMINAL_OPS"] = rule

	e := NewEngine(policy)
	d := e.Evaluate("NOMINAL_OPS", "nominal", 0.1, RecurrenceAttributes{})
	require.Equal(t, "MONITOR", d.RecommendedAction)
	require.Contains(t, d.Reasoning, "substituted")
}

func TestValidateRejectsUnrecognizedPhaseName(t *testing.T) {
	p := &PhasePolicy{Phases: map[string]PhaseRule{
		"NOT_A_PHASE": {ThresholdMultiplier: 1.0},
	}}
	err := Validate(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_A_PHASE")
}

func TestReloadKeepsOldPolicyOnValidationFailure(t *testing.T) {
	e := NewEngine(samplePolicy())
	bad := &PhasePolicy{Phases: map[string]PhaseRule{
		"NOMINAL_OPS": {ThresholdMultiplier: -1},
	}}
	err := e.Reload(bad)
	require.Error(t, err)

	d := e.Evaluate("NOMINAL_OPS", "nominal", 0.1, RecurrenceAttributes{})
	require.Equal(t, "NO_ACTION", d.RecommendedAction)
}
