package feedback

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"go.uber.org/zap"
)

// Rule evaluates one governance policy against a pending action. A nil
// return means the rule did not fire. Follows an accumulate-every-violation
// pattern, generalized from order-level rules to strategy-execution-level
// rules.
type Rule func(strategyID string, action executor.GovernanceActionType, context map[string]string) *executor.GovernanceViolation

// GovernanceConfig configures the built-in rule set.
type GovernanceConfig struct {
	RestrictedSymbols     map[string]bool
	CooldownAfterCritical time.Duration
	RateLimitPerWindow    int
	RateLimitWindow       time.Duration
	MinTrustForExecute    float64
}

// DefaultGovernanceConfig has no restricted symbols and a lenient rate limit.
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		RestrictedSymbols:     map[string]bool{},
		CooldownAfterCritical: 5 * time.Minute,
		RateLimitPerWindow:    120,
		RateLimitWindow:       time.Minute,
		MinTrustForExecute:    0.0,
	}
}

// GovernanceEnforcer evaluates a configurable rule set against a pending
// strategy action and accumulates every violation.
type GovernanceEnforcer struct {
	logger *zap.Logger
	cfg    GovernanceConfig
	rules  []Rule

	mu           sync.Mutex
	lastCritical map[string]time.Time
	windowStart  map[string]time.Time
	windowCount  map[string]int
}

// NewGovernanceEnforcer constructs an enforcer with the built-in rule set
// (restricted symbols, post-critical-violation cooldown, rate limiting,
// trust floor).
// Additional rules can be appended with AddRule before first use.
func NewGovernanceEnforcer(logger *zap.Logger, cfg GovernanceConfig) *GovernanceEnforcer {
	g := &GovernanceEnforcer{
		logger:       logger.Named("governance-enforcer"),
		cfg:          cfg,
		lastCritical: make(map[string]time.Time),
		windowStart:  make(map[string]time.Time),
		windowCount:  make(map[string]int),
	}
	g.rules = []Rule{
		g.restrictedSymbolRule,
		g.cooldownRule,
		g.rateLimitRule,
		g.trustFloorRule,
	}
	return g
}

// AddRule appends a custom rule evaluated alongside the built-ins.
func (g *GovernanceEnforcer) AddRule(r Rule) {
	g.rules = append(g.rules, r)
}

// EnforceRules evaluates every configured rule and returns the accumulated
// violations. Allowed is false only if at least one Critical violation
// fired; Warning/Info violations are reported but don't block.
func (g *GovernanceEnforcer) EnforceRules(ctx context.Context, strategyID string, action executor.GovernanceActionType, context map[string]string) executor.EnforcementResult {
	var violations []executor.GovernanceViolation
	allowed := true

	for _, rule := range g.rules {
		if v := rule(strategyID, action, context); v != nil {
			violations = append(violations, *v)
			if v.Severity == executor.SeverityCritical {
				allowed = false
			}
		}
	}

	if !allowed {
		g.mu.Lock()
		g.lastCritical[strategyID] = time.Now()
		g.mu.Unlock()
	}

	return executor.EnforcementResult{Allowed: allowed, Violations: violations}
}

func (g *GovernanceEnforcer) restrictedSymbolRule(strategyID string, action executor.GovernanceActionType, ctx map[string]string) *executor.GovernanceViolation {
	symbol := ctx["symbol"]
	if symbol == "" || !g.cfg.RestrictedSymbols[symbol] {
		return nil
	}
	return &executor.GovernanceViolation{
		Code:     "GOV-RESTRICTED-SYMBOL",
		Reason:   fmt.Sprintf("%s is on the restricted symbol list", symbol),
		Severity: executor.SeverityCritical,
	}
}

func (g *GovernanceEnforcer) cooldownRule(strategyID string, action executor.GovernanceActionType, ctx map[string]string) *executor.GovernanceViolation {
	g.mu.Lock()
	last, ok := g.lastCritical[strategyID]
	g.mu.Unlock()
	if !ok || time.Since(last) >= g.cfg.CooldownAfterCritical {
		return nil
	}
	return &executor.GovernanceViolation{
		Code:     "GOV-COOLDOWN-ACTIVE",
		Reason:   fmt.Sprintf("strategy is in a governance cooldown until %s", last.Add(g.cfg.CooldownAfterCritical).Format(time.RFC3339)),
		Severity: executor.SeverityCritical,
	}
}

func (g *GovernanceEnforcer) rateLimitRule(strategyID string, action executor.GovernanceActionType, ctx map[string]string) *executor.GovernanceViolation {
	if g.cfg.RateLimitPerWindow <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	start, ok := g.windowStart[strategyID]
	if !ok || now.Sub(start) >= g.cfg.RateLimitWindow {
		g.windowStart[strategyID] = now
		g.windowCount[strategyID] = 0
	}
	g.windowCount[strategyID]++

	if g.windowCount[strategyID] > g.cfg.RateLimitPerWindow {
		return &executor.GovernanceViolation{
			Code:     "GOV-RATE-LIMIT",
			Reason:   fmt.Sprintf("strategy exceeded %d actions in the current window", g.cfg.RateLimitPerWindow),
			Severity: executor.SeverityWarning,
		}
	}
	return nil
}

func (g *GovernanceEnforcer) trustFloorRule(strategyID string, action executor.GovernanceActionType, ctx map[string]string) *executor.GovernanceViolation {
	if g.cfg.MinTrustForExecute <= 0 {
		return nil
	}
	raw, ok := ctx["trust_score"]
	if !ok {
		return nil
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || score >= g.cfg.MinTrustForExecute {
		return nil
	}
	return &executor.GovernanceViolation{
		Code:     "GOV-TRUST-FLOOR",
		Reason:   fmt.Sprintf("trust score %.2f below governance floor %.2f", score, g.cfg.MinTrustForExecute),
		Severity: executor.SeverityWarning,
	}
}
