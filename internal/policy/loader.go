package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlPhasePolicy mirrors PhasePolicy but represents action sets as YAML
// lists (the natural authoring format) rather than maps.
type yamlPhasePolicy struct {
	Phases map[string]yamlPhaseRule `yaml:"phases"`
}

type yamlPhaseRule struct {
	AllowedActions      []string         `yaml:"allowed_actions"`
	ForbiddenActions    []string         `yaml:"forbidden_actions"`
	ThresholdMultiplier float64          `yaml:"threshold_multiplier"`
	EscalationRules     []EscalationRule `yaml:"escalation_rules"`
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

// LoadPhasePolicy reads and validates a PhasePolicy YAML document from
// path. Used both at startup and by the SIGHUP hot-reload path.
func LoadPhasePolicy(path string) (*PhasePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy.LoadPhasePolicy: read %q: %w", path, err)
	}

	var raw yamlPhasePolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policy.LoadPhasePolicy: parse %q: %w", path, err)
	}

	p := &PhasePolicy{Phases: make(map[string]PhaseRule, len(raw.Phases))}
	for phase, rule := range raw.Phases {
		if rule.ThresholdMultiplier == 0 {
			rule.ThresholdMultiplier = 1.0
		}
		p.Phases[phase] = PhaseRule{
			AllowedActions:      toSet(rule.AllowedActions),
			ForbiddenActions:    toSet(rule.ForbiddenActions),
			ThresholdMultiplier: rule.ThresholdMultiplier,
			EscalationRules:     rule.EscalationRules,
		}
	}

	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("policy.LoadPhasePolicy: validation failed: %w", err)
	}
	return p, nil
}
