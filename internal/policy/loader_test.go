package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
phases:
  NOMINAL_OPS:
    allowed_actions: [NO_ACTION, MONITOR, MITIGATE]
    forbidden_actions: []
    threshold_multiplier: 1.0
    escalation_rules:
      - anomaly_type: "*"
        min_severity: LOW
        level: LOG
      - anomaly_type: thermal_fault
        min_severity: MEDIUM
        level: WARN
        recurrence_threshold: 3
  SAFE_MODE:
    allowed_actions: [MONITOR]
    forbidden_actions: [MITIGATE]
    threshold_multiplier: 0.5
    escalation_rules:
      - anomaly_type: "*"
        min_severity: LOW
        level: WARN
`

func TestLoadPhasePolicyParsesListsIntoSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicyYAML), 0o644))

	p, err := LoadPhasePolicy(path)
	require.NoError(t, err)

	nominal := p.Phases["NOMINAL_OPS"]
	require.True(t, nominal.AllowedActions["MITIGATE"])
	require.False(t, nominal.ForbiddenActions["MITIGATE"])
	require.Len(t, nominal.EscalationRules, 2)

	safe := p.Phases["SAFE_MODE"]
	require.True(t, safe.ForbiddenActions["MITIGATE"])
}

func TestLoadPhasePolicyRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  NOMINAL_OPS:
    allowed_actions: [MITIGATE]
    forbidden_actions: [MITIGATE]
    threshold_multiplier: 1.0
`), 0o644))

	_, err := LoadPhasePolicy(path)
	require.Error(t, err)
}

func TestLoadPhasePolicyRejectsUnknownPhaseName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  NOMINAL_OPPS:
    allowed_actions: [MONITOR]
    forbidden_actions: []
    threshold_multiplier: 1.0
`), 0o644))

	_, err := LoadPhasePolicy(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOMINAL_OPPS")
}
