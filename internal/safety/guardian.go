package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelrun/sentinel/internal/infra"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// ErrApprovalRejected is returned by the Agent Loop when a user declines an
// approval request raised by the Guardian.
var ErrApprovalRejected = errors.New("approval was rejected by user")

// Decision is the outcome of Guardian.Evaluate.
type Decision struct {
	Type        models.DecisionType
	Request     *models.ActionRequest // set when Type == DecisionRequireApproval
	Reason      string                // set when Type == DecisionDeny
	Explanation models.Explanation
}

// Config configures a Guardian's decision policy.
type Config struct {
	// ApprovalThreshold is the highest effective risk level that is allowed
	// to execute without approval. Defaults to models.RiskWrite per spec §4.3.
	ApprovalThreshold models.RiskLevel

	// ApprovalScopeActive, when true, lets a RequireApproval-eligible
	// Destructive action through as RequireApproval instead of an automatic
	// Deny (spec §4.3: "Destructive -> Deny unless an explicit approval
	// scope is active").
	ApprovalScopeActive bool

	IsProductionEnv bool
	TrustLevel      int // 0..4
}

// DefaultConfig returns spec §4.3's default policy: approval required above Write.
func DefaultConfig() Config {
	return Config{
		ApprovalThreshold: models.RiskWrite,
		TrustLevel:        2,
	}
}

// Guardian is the Safety Guardian of spec §4.3: it scores a proposed tool
// invocation's effective risk and decides Allow / RequireApproval / Deny,
// tracking consecutive tool failures and circuit-breaker state as context
// for future decisions, and appending every decision to an audited
// explanation log.
type Guardian struct {
	mu     sync.Mutex
	cfg    Config
	scorer *DynamicRiskScorer
	cb     *infra.CircuitBreaker

	consecutiveErrors int
	activeIncident    bool

	explanations []models.Explanation
	onDecision   func(models.Explanation)
}

// New constructs a Guardian. onDecision, if non-nil, is invoked synchronously
// after every Evaluate call — the Agent Loop wires this to the MerkleChain
// audit trail so every decision is hashed regardless of outcome (spec §4.3).
func New(cfg Config, onDecision func(models.Explanation)) *Guardian {
	return &Guardian{
		cfg:        cfg,
		scorer:     NewDynamicRiskScorer(),
		cb:         infra.NewCircuitBreaker(infra.CircuitBreakerConfig{Name: "safety-guardian"}),
		onDecision: onDecision,
	}
}

// AddModifier registers a custom risk modifier with the underlying scorer.
func (g *Guardian) AddModifier(m RiskModifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scorer.AddModifier(m)
}

// SetActiveIncident toggles the "active incident" context factor (SRE mode).
func (g *Guardian) SetActiveIncident(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeIncident = active
}

// Evaluate decides whether a proposed tool call should be allowed, should
// require approval, or should be denied. args is passed through to the ML
// safety bridge (an advisory check folded into the Explanation only).
func (g *Guardian) Evaluate(toolName string, baseRisk models.RiskLevel, args json.RawMessage) Decision {
	g.mu.Lock()
	ctx := models.RiskContext{
		HourOfDay:          time.Now().Hour(),
		ConsecutiveErrors:  g.consecutiveErrors,
		TrustLevel:         g.cfg.TrustLevel,
		CircuitBreakerOpen: g.cb.State() == infra.CircuitOpen,
		IsProductionEnv:    g.cfg.IsProductionEnv,
		ActiveIncident:     g.activeIncident,
	}
	effective := g.scorer.Evaluate(toolName, baseRisk, ctx)
	threshold := g.cfg.ApprovalThreshold
	approvalScopeActive := g.cfg.ApprovalScopeActive
	g.mu.Unlock()

	steps := []string{
		fmt.Sprintf("base risk for %q is %s", toolName, baseRisk),
		fmt.Sprintf("effective risk after context rules is %s", effective),
	}
	var factors []string
	if ctx.HourOfDay >= 23 || ctx.HourOfDay < 6 {
		factors = append(factors, "late-night window")
	}
	if ctx.ConsecutiveErrors >= 3 {
		factors = append(factors, fmt.Sprintf("%d consecutive tool errors", ctx.ConsecutiveErrors))
	}
	if ctx.ActiveIncident {
		factors = append(factors, "active incident")
	}
	if ctx.CircuitBreakerOpen {
		factors = append(factors, "circuit breaker open")
	}
	if ctx.IsProductionEnv {
		factors = append(factors, "production environment")
	}
	if warning, ok := CheckMLAction(toolName, args); ok {
		factors = append(factors, "ml-safety: "+warning)
	}

	var decision Decision
	switch {
	case effective <= threshold:
		decision = Decision{
			Type: models.DecisionAllow,
			Explanation: models.Explanation{
				DecisionType:   models.DecisionAllow,
				ReasoningSteps: append(steps, "effective risk within approval threshold"),
				ContextFactors: factors,
				Confidence:     0.9,
				Timestamp:      time.Now(),
			},
		}
	case effective == models.RiskDestructive && !approvalScopeActive:
		reason := fmt.Sprintf("tool %q escalated to destructive risk and no approval scope is active", toolName)
		decision = Decision{
			Type:   models.DecisionDeny,
			Reason: reason,
			Explanation: models.Explanation{
				DecisionType:   models.DecisionDeny,
				ReasoningSteps: append(steps, reason),
				Alternatives:   []string{"re-run with an active approval scope", "use a lower-risk tool"},
				ContextFactors: factors,
				Confidence:     0.95,
				Timestamp:      time.Now(),
			},
		}
	default:
		req := &models.ActionRequest{
			Description: fmt.Sprintf("%q requires approval (effective risk: %s)", toolName, effective),
			RiskLevel:   effective,
			Context:     map[string]any{"tool": toolName, "consecutive_errors": ctx.ConsecutiveErrors},
		}
		decision = Decision{
			Type:    models.DecisionRequireApproval,
			Request: req,
			Explanation: models.Explanation{
				DecisionType:   models.DecisionRequireApproval,
				ReasoningSteps: append(steps, "effective risk above threshold; approval required"),
				ContextFactors: factors,
				Confidence:     0.8,
				Timestamp:      time.Now(),
			},
		}
	}

	g.mu.Lock()
	g.explanations = append(g.explanations, decision.Explanation)
	g.mu.Unlock()

	if g.onDecision != nil {
		g.onDecision(decision.Explanation)
	}

	return decision
}

// RecordOutcome updates the rolling consecutive-error counter and the
// circuit breaker after a tool dispatch completes. Call with ok=true on
// success (resets the counter) and ok=false on failure (increments it).
func (g *Guardian) RecordOutcome(ok bool) {
	g.mu.Lock()
	if ok {
		g.consecutiveErrors = 0
	} else {
		g.consecutiveErrors++
	}
	g.mu.Unlock()

	_ = g.cb.Execute(context.Background(), func(context.Context) error {
		if ok {
			return nil
		}
		return errors.New("tool execution failed")
	})
}

// ConsecutiveErrors returns the current consecutive-failure count.
func (g *Guardian) ConsecutiveErrors() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveErrors
}

// ExplanationLog returns a copy of the append-only decision trail.
func (g *Guardian) ExplanationLog() []models.Explanation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Explanation, len(g.explanations))
	copy(out, g.explanations)
	return out
}
