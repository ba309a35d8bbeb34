// Package policy implements the stateless Mission-Phase Policy Engine: a
// pure function from (phase, anomaly_type, severity_score, attributes) to
// a PolicyDecision, plus the PhasePolicy configuration it evaluates
// against and its atomic hot-reload.
package policy

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/astraguard/astraguard/internal/escalation"
)

// Severity is the bucketed severity tier.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// EscalationLevel ranges from informational to a forced SAFE_MODE demand.
type EscalationLevel string

const (
	EscalationNone        EscalationLevel = "NONE"
	EscalationLog         EscalationLevel = "LOG"
	EscalationWarn        EscalationLevel = "WARN"
	EscalationMask        EscalationLevel = "MASK"
	EscalationSafeMode    EscalationLevel = "ESCALATE_SAFE_MODE"
)

var escalationRank = map[EscalationLevel]int{
	EscalationNone: 0, EscalationLog: 1, EscalationWarn: 2, EscalationMask: 3, EscalationSafeMode: 4,
}

// SeverityForScore buckets an effective severity score against the fixed
// thresholds: >=0.8 CRITICAL, >=0.6 HIGH, >=0.4 MEDIUM, else LOW.
func SeverityForScore(effective float64) Severity {
	switch {
	case effective >= 0.8:
		return SeverityCritical
	case effective >= 0.6:
		return SeverityHigh
	case effective >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EscalationRule maps a (possibly wildcarded) anomaly type and a minimum
// severity tier to an escalation level and optional recurrence-based
// forced escalation.
type EscalationRule struct {
	// AnomalyType is either an exact type ("thermal_fault") or "*" for the
	// wildcard default. Exact matches are always more specific than "*".
	AnomalyType string          `yaml:"anomaly_type"`
	MinSeverity Severity        `yaml:"min_severity"`
	Level       EscalationLevel `yaml:"level"`
	// RecurrenceThreshold, if > 0, forces ESCALATE_SAFE_MODE once
	// total_in_window reaches this count for the matching anomaly type.
	RecurrenceThreshold int `yaml:"recurrence_threshold"`
}

// specificity returns 1 for an exact anomaly-type match, 0 for wildcard.
func (r EscalationRule) specificity(anomalyType string) int {
	if r.AnomalyType == anomalyType {
		return 1
	}
	return 0
}

func (r EscalationRule) matches(anomalyType string, severity Severity) bool {
	if r.AnomalyType != anomalyType && r.AnomalyType != "*" {
		return false
	}
	return severityRank[severity] >= severityRank[r.MinSeverity]
}

// PhaseRule is the per-phase policy: allowed/forbidden action sets, a
// severity-score multiplier, and the escalation rule table.
type PhaseRule struct {
	AllowedActions      map[string]bool
	ForbiddenActions    map[string]bool
	ThresholdMultiplier float64
	EscalationRules     []EscalationRule
}

// PhasePolicy is the full per-phase policy table, loaded from config at
// startup and hot-reloadable. See LoadPhasePolicy for the on-disk YAML
// shape (action sets are authored as lists, not maps).
type PhasePolicy struct {
	Phases map[string]PhaseRule // keyed by MissionPhase.String()
}

// Validate checks the structural invariants: every phase key resolves to a
// MissionPhase variant (§9: unknown phase names are a validation error),
// allowed ∩ forbidden = ∅, and threshold_multiplier > 0.
func Validate(p *PhasePolicy) error {
	for phase, rule := range p.Phases {
		if _, ok := escalation.ParsePhase(phase); !ok {
			return fmt.Errorf("policy: phase %q is not a recognized MissionPhase", phase)
		}
		if rule.ThresholdMultiplier <= 0 {
			return fmt.Errorf("policy: phase %s: threshold_multiplier must be > 0, got %f", phase, rule.ThresholdMultiplier)
		}
		for action := range rule.AllowedActions {
			if rule.ForbiddenActions[action] {
				return fmt.Errorf("policy: phase %s: action %q is both allowed and forbidden", phase, action)
			}
		}
	}
	return nil
}

// RecurrenceAttributes carries the recurrence signal the handler computed
// for this anomaly_type, used by rule (b) in §4.3's evaluation steps.
type RecurrenceAttributes struct {
	Confidence     float64
	RecurrenceCount int
	TotalInWindow   int
	Metadata        map[string]string
}

// Decision is the PolicyDecision produced by Evaluate.
type Decision struct {
	Severity         Severity
	EscalationLevel  EscalationLevel
	RecommendedAction string
	IsAllowed        bool
	AllowedActions   []string
	Reasoning        string
}

// Engine evaluates decisions against the currently loaded PhasePolicy. The
// policy reference is swapped atomically on a successful hot reload;
// readers never take a lock (§5).
type Engine struct {
	policy atomic.Pointer[PhasePolicy]
}

// NewEngine constructs an Engine with the given initial policy.
func NewEngine(initial *PhasePolicy) *Engine {
	e := &Engine{}
	e.policy.Store(initial)
	return e
}

// Reload validates candidate and, only on success, atomically replaces the
// active policy. On validation failure the old policy remains active and
// the error is returned for the caller to log.
func (e *Engine) Reload(candidate *PhasePolicy) error {
	if err := Validate(candidate); err != nil {
		return err
	}
	e.policy.Store(candidate)
	return nil
}

func defaultPhaseRule() PhaseRule {
	return PhaseRule{
		AllowedActions:      map[string]bool{},
		ForbiddenActions:    map[string]bool{},
		ThresholdMultiplier: 1.0,
		EscalationRules: []EscalationRule{
			{AnomalyType: "*", MinSeverity: SeverityLow, Level: EscalationWarn},
		},
	}
}

// Evaluate implements §4.3's evaluation rules.
func (e *Engine) Evaluate(phase, anomalyType string, severityScore float64, attrs RecurrenceAttributes) Decision {
	p := e.policy.Load()
	rule, ok := p.Phases[phase]
	if !ok {
		rule = defaultPhaseRule()
	}

	effective := severityScore * rule.ThresholdMultiplier
	severity := SeverityForScore(effective)

	level, matchedRule := bestEscalationRule(rule.EscalationRules, anomalyType, severity)

	forcedBySeverity := severity == SeverityCritical
	forcedByRecurrence := matchedRule.RecurrenceThreshold > 0 && attrs.TotalInWindow >= matchedRule.RecurrenceThreshold
	if forcedBySeverity || forcedByRecurrence {
		level = EscalationSafeMode
	}

	action := recommendedAction(severity, level)
	reasoning := fmt.Sprintf("phase=%s anomaly_type=%s severity=%s effective_score=%.3f", phase, anomalyType, severity, effective)
	if forcedByRecurrence {
		reasoning += fmt.Sprintf(" recurrence total_in_window=%d>=threshold=%d", attrs.TotalInWindow, matchedRule.RecurrenceThreshold)
	}

	isAllowed := true
	if rule.ForbiddenActions[action] {
		substitute := highestRankedAllowed(rule.AllowedActions)
		reasoning += fmt.Sprintf("; action %q forbidden in phase %s, substituted %q", action, phase, substitute)
		action = substitute
		isAllowed = action != ""
	}

	return Decision{
		Severity:          severity,
		EscalationLevel:   level,
		RecommendedAction: action,
		IsAllowed:         isAllowed,
		AllowedActions:    sortedKeys(rule.AllowedActions),
		Reasoning:         reasoning,
	}
}

// bestEscalationRule applies the tie-break policy: most specific
// anomaly-type match wins; ties broken by higher severity requirement,
// then by higher escalation level.
func bestEscalationRule(rules []EscalationRule, anomalyType string, severity Severity) (EscalationLevel, EscalationRule) {
	var best *EscalationRule
	for i := range rules {
		r := &rules[i]
		if !r.matches(anomalyType, severity) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if r.specificity(anomalyType) != best.specificity(anomalyType) {
			if r.specificity(anomalyType) > best.specificity(anomalyType) {
				best = r
			}
			continue
		}
		if severityRank[r.MinSeverity] != severityRank[best.MinSeverity] {
			if severityRank[r.MinSeverity] > severityRank[best.MinSeverity] {
				best = r
			}
			continue
		}
		if escalationRank[r.Level] > escalationRank[best.Level] {
			best = r
		}
	}
	if best == nil {
		return EscalationWarn, EscalationRule{Level: EscalationWarn}
	}
	return best.Level, *best
}

func recommendedAction(severity Severity, level EscalationLevel) string {
	if level == EscalationSafeMode {
		return "ENTER_SAFE_MODE"
	}
	switch severity {
	case SeverityCritical, SeverityHigh:
		return "MITIGATE"
	case SeverityMedium:
		return "MONITOR"
	default:
		return "NO_ACTION"
	}
}

func highestRankedAllowed(allowed map[string]bool) string {
	keys := sortedKeys(allowed)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
