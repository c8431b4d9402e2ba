// Package safety implements the Safety Guardian: dynamic risk scoring,
// approval/deny decisions, and an audited explanation trail for every
// action the Agent Loop proposes to the Tool Registry.
//
// Grounded on rustant-core/src/risk_scorer.rs, translated from the Rust
// struct-of-closures design into the teacher's idiom of a struct holding
// ordered rule methods plus a slice of pluggable modifiers.
package safety

import (
	"time"

	"github.com/sentinelrun/sentinel/pkg/models"
)

// RiskAdjustment describes how a custom modifier changes a risk level.
type RiskAdjustment int

const (
	AdjustNoChange RiskAdjustment = iota
	AdjustEscalate
	AdjustDeEscalate
	AdjustOverride
)

// ModifierScope selects which tools a RiskModifier applies to.
type ModifierScope struct {
	AllTools     bool
	SpecificTool string
	AtRiskLevel  *models.RiskLevel
}

// RiskModifier is an operator-registered rule beyond the five fixed
// escalation rules of spec §4.3 — ported from risk_scorer.rs's RiskModifier.
type RiskModifier struct {
	Name       string
	Scope      ModifierScope
	Adjustment RiskAdjustment
	Override   models.RiskLevel // used when Adjustment == AdjustOverride
	Active     bool
}

func (m RiskModifier) applies(toolName string, base models.RiskLevel) bool {
	if !m.Active {
		return false
	}
	switch {
	case m.Scope.AllTools:
		return true
	case m.Scope.SpecificTool != "":
		return m.Scope.SpecificTool == toolName
	case m.Scope.AtRiskLevel != nil:
		return *m.Scope.AtRiskLevel == base
	default:
		return false
	}
}

// deploymentTools are escalated to Destructive during an active incident,
// per spec §4.3's "Active incident" rule.
var deploymentTools = map[string]bool{
	"deployment_intel": true,
	"kubernetes":       true,
	"shell_exec":       true,
}

// DynamicRiskScorer applies the ordered, escalation-only rules of spec §4.3
// to a tool's base risk level, then any active custom modifiers.
type DynamicRiskScorer struct {
	modifiers []RiskModifier
}

// NewDynamicRiskScorer returns a scorer with no custom modifiers.
func NewDynamicRiskScorer() *DynamicRiskScorer {
	return &DynamicRiskScorer{}
}

// AddModifier registers a custom risk modifier.
func (s *DynamicRiskScorer) AddModifier(m RiskModifier) {
	s.modifiers = append(s.modifiers, m)
}

// ActiveModifiers returns the modifiers currently marked active.
func (s *DynamicRiskScorer) ActiveModifiers() []RiskModifier {
	var out []RiskModifier
	for _, m := range s.modifiers {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// Evaluate computes the effective risk level for a tool invocation given the
// current RiskContext, applying spec §4.3's table in order: late-night,
// error-rate, active-incident, circuit-breaker, production-env, then any
// active custom modifiers. Every rule may only escalate, never downgrade,
// matching the invariant of spec §8 ("effective_risk >= base_risk for any
// single rule; the composition never downgrades").
func (s *DynamicRiskScorer) Evaluate(toolName string, base models.RiskLevel, ctx models.RiskContext) models.RiskLevel {
	risk := base

	risk = applyLateNightRule(risk, ctx)
	risk = applyErrorRateRule(risk, ctx)
	risk = applyIncidentRule(risk, toolName, ctx)
	risk = applyCircuitBreakerRule(risk, ctx)
	risk = applyProductionRule(risk, ctx)

	for _, m := range s.modifiers {
		if m.applies(toolName, base) {
			risk = applyAdjustment(risk, m)
		}
	}

	return risk
}

func applyLateNightRule(risk models.RiskLevel, ctx models.RiskContext) models.RiskLevel {
	if ctx.HourOfDay >= 23 || ctx.HourOfDay < 6 {
		switch risk {
		case models.RiskWrite:
			return models.RiskExecute
		case models.RiskExecute:
			return models.RiskDestructive
		}
	}
	return risk
}

func applyErrorRateRule(risk models.RiskLevel, ctx models.RiskContext) models.RiskLevel {
	if ctx.ConsecutiveErrors >= 3 && risk >= models.RiskWrite {
		return risk.Escalate()
	}
	return risk
}

func applyIncidentRule(risk models.RiskLevel, toolName string, ctx models.RiskContext) models.RiskLevel {
	if ctx.ActiveIncident && deploymentTools[toolName] && risk >= models.RiskWrite {
		return models.RiskDestructive
	}
	return risk
}

func applyCircuitBreakerRule(risk models.RiskLevel, ctx models.RiskContext) models.RiskLevel {
	if ctx.CircuitBreakerOpen && risk > models.RiskReadOnly {
		return models.RiskDestructive
	}
	return risk
}

func applyProductionRule(risk models.RiskLevel, ctx models.RiskContext) models.RiskLevel {
	if ctx.IsProductionEnv && risk == models.RiskNetwork {
		return models.RiskDestructive
	}
	return risk
}

func applyAdjustment(risk models.RiskLevel, m RiskModifier) models.RiskLevel {
	switch m.Adjustment {
	case AdjustEscalate:
		return risk.Escalate()
	case AdjustDeEscalate:
		return risk.DeEscalate()
	case AdjustOverride:
		return m.Override
	default:
		return risk
	}
}

// CurrentRiskContext builds a RiskContext snapshot from live signals the
// caller tracks (consecutive error counter, trust level, breaker state).
// Mirrors rustant-core/src/risk_scorer.rs's RiskContext::current, using
// wall-clock local time for HourOfDay.
func CurrentRiskContext(consecutiveErrors, trustLevel int, circuitBreakerOpen, isProductionEnv, activeIncident bool) models.RiskContext {
	return models.RiskContext{
		HourOfDay:          time.Now().Hour(),
		ConsecutiveErrors:  consecutiveErrors,
		TrustLevel:         trustLevel,
		CircuitBreakerOpen: circuitBreakerOpen,
		IsProductionEnv:    isProductionEnv,
		ActiveIncident:     activeIncident,
	}
}
