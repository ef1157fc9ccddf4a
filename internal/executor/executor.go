package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTimeout is returned when a strategy's GenerateSignal exceeds
// StrategyExecutionTimeout.
var ErrTimeout = errors.New("executor: strategy generation timed out")

// MarketDataProvider supplies the latest snapshot for a watched symbol.
type MarketDataProvider interface {
	GetLatestMarketData(ctx context.Context, symbol market.Symbol) (*market.Data, error)
}

// Executor drives the cycle loop: pull market data, fan signals out through
// each strategy, run each through the gate chain (health, risk, governance,
// generation, entropy, sizing, dispatch), and feed results back to the risk
// manager and optional feedback collaborators.
type Executor struct {
	logger   *zap.Logger
	config   Config
	registry *strategy.Registry
	symbols  []market.Symbol

	riskMgr     *risk.Manager
	marketData  MarketDataProvider
	execService ExecutionService
	entropy     EntropyInjector
	reporter    Reporter

	drawdown    DrawdownTracker
	attribution AttributionEngine
	factor      FactorAnalysisEngine
	governance  GovernanceEnforcer

	states  *stateTable
	backoff *backoffTracker

	results chan *ExecutionResult
}

// New constructs an Executor. Feedback collaborators (drawdown, attribution,
// factor, governance) and reporter may be nil; the Executor degrades
// gracefully when any of them are absent.
func New(
	logger *zap.Logger,
	config Config,
	registry *strategy.Registry,
	symbols []market.Symbol,
	riskMgr *risk.Manager,
	marketData MarketDataProvider,
	execService ExecutionService,
) *Executor {
	e := &Executor{
		logger:      logger,
		config:      config,
		registry:    registry,
		symbols:     symbols,
		riskMgr:     riskMgr,
		marketData:  marketData,
		execService: execService,
		entropy:     newDefaultEntropyInjector(config.Entropy, 1),
		reporter:    noopReporter{},
		states:      newStateTable(),
		backoff:     newBackoffTracker(config.BackoffBase, config.BackoffMax),
		results:     make(chan *ExecutionResult, resultsBufferSize),
	}
	return e
}

// resultsBufferSize bounds the per-cycle result stream; a cycle producing
// more passes than this drops the oldest unread results rather than block.
const resultsBufferSize = 256

// Results exposes the uniform per-cycle result stream: every gate-chain
// pass over a strategy — rejected early or dispatched to completion —
// publishes exactly one ExecutionResult here, except a pass whose strategy
// generated no signal, which publishes nothing.
func (e *Executor) Results() <-chan *ExecutionResult { return e.results }

// publishResult pushes a result onto the stream without blocking the
// cycle loop; if no consumer is keeping up, the oldest buffered result is
// dropped to make room.
func (e *Executor) publishResult(r *ExecutionResult) {
	if r == nil {
		return
	}
	for {
		select {
		case e.results <- r:
			return
		default:
			select {
			case <-e.results:
			default:
			}
		}
	}
}

// SetReporter installs the telemetry reporter.
func (e *Executor) SetReporter(r Reporter) { e.reporter = r }

// SetDrawdownTracker installs the drawdown feedback collaborator.
func (e *Executor) SetDrawdownTracker(d DrawdownTracker) { e.drawdown = d }

// SetAttributionEngine installs the attribution feedback collaborator.
func (e *Executor) SetAttributionEngine(a AttributionEngine) { e.attribution = a }

// SetFactorAnalysisEngine installs the factor-analysis feedback collaborator.
func (e *Executor) SetFactorAnalysisEngine(f FactorAnalysisEngine) { e.factor = f }

// SetGovernanceEnforcer installs the governance feedback collaborator.
func (e *Executor) SetGovernanceEnforcer(g GovernanceEnforcer) { e.governance = g }

// ResetStrategyHealth clears a strategy's error streak and health after
// manual intervention.
func (e *Executor) ResetStrategyHealth(strategyID string) {
	e.states.reset(strategyID)
	e.reporter.ReportCustom("strategy_health_reset", map[string]string{"strategy_id": strategyID})
}

// Run drives the cycle loop on config.ExecutionInterval until ctx is
// cancelled. A cycle that overruns its interval logs a warning; the next
// cycle starts immediately after the overrun completes.
func (e *Executor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.ExecutionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case start := <-ticker.C:
			e.runCycle(ctx)
			if elapsed := time.Since(start); elapsed > e.config.ExecutionInterval {
				e.logger.Warn("execution cycle overran its interval",
					zap.Duration("elapsed", elapsed),
					zap.Duration("interval", e.config.ExecutionInterval))
			}
		}
	}
}

// runCycle executes one pass of every strategy against every watched
// symbol's latest market data.
func (e *Executor) runCycle(ctx context.Context) {
	for _, sym := range e.symbols {
		data, err := e.marketData.GetLatestMarketData(ctx, sym)
		if err != nil {
			e.logger.Error("failed to fetch market data", zap.String("symbol", string(sym)), zap.Error(err))
			e.reporter.ReportCustom("market_data_error", map[string]string{"symbol": string(sym), "error": err.Error()})
			continue
		}

		strategies := e.registry.List()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, len(strategies)))
		for _, s := range strategies {
			s := s
			g.Go(func() error {
				result := e.runStrategyPass(gctx, s, data)
				e.publishResult(result)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// runStrategyPass executes the full gate chain for one (strategy, market
// snapshot) pair. Any gate producing a rejection terminates the pass and
// returns a synthetic ExecutionResult so the cycle's result stream stays
// uniform regardless of which gate stopped the signal (or whether a Signal
// ever existed), including the health and backoff skips. A nil return means
// the strategy legitimately had no signal.
func (e *Executor) runStrategyPass(ctx context.Context, s strategy.Strategy, data *market.Data) *ExecutionResult {
	id := s.Name()
	now := time.Now()

	// Gate 1: health.
	if e.states.shouldSkip(id, e.config.SkipFailedStrategies) {
		e.logger.Debug("skipping strategy due to health status", zap.String("strategy", id))
		return NewRejectionResult(id, "health", string(e.states.healthOf(id)), "strategy health gate: "+string(e.states.healthOf(id)))
	}

	// Backpressure: still inside a backoff window from a prior overload.
	if e.backoff.Blocked(id, now) {
		e.logger.Debug("skipping strategy due to backoff window", zap.String("strategy", id))
		return NewRejectionResult(id, "backoff", "Backoff", "strategy is in an overload backoff window")
	}

	// Gate 2: RiskManager disabled-gate.
	if e.riskMgr.IsStrategyDisabled(id) {
		e.logger.Debug("skipping strategy due to risk cooldown", zap.String("strategy", id))
		reason := "strategy is in cooldown period"
		e.reporter.ReportRiskLimit(id, risk.ValidationOutcome{Result: risk.ResultStrategyDisabled, Reason: reason})
		return NewRejectionResult(id, "risk_disabled", string(risk.ResultStrategyDisabled), reason)
	}

	// Gate 3: trust.
	metrics := e.riskMgr.Metrics(id)
	if e.config.TrustPolicy.Enabled {
		if metrics.TrustScore < e.config.TrustPolicy.HardRejectionThreshold {
			e.reporter.ReportTrustRejection(id, metrics.TrustScore, e.config.TrustPolicy.HardRejectionThreshold)
			reason := fmt.Sprintf("Trust-based rejection: score %.2f below hard threshold %.2f", metrics.TrustScore, e.config.TrustPolicy.HardRejectionThreshold)
			return NewRejectionResult(id, "trust", "TrustGate", reason)
		}
		if metrics.TrustScore < e.config.TrustPolicy.SoftWarningThreshold {
			e.reporter.EmitSoftWarning(id, metrics.TrustScore,
				fmt.Sprintf("trust score (%.2f) below warning threshold (%.2f)", metrics.TrustScore, e.config.TrustPolicy.SoftWarningThreshold))
		}
	}

	// Gate 4: governance.
	if e.governance != nil {
		govCtx := map[string]string{
			"strategy_id": id,
			"action":      "execute_strategy",
			"trust_score": fmt.Sprintf("%.4f", metrics.TrustScore),
			"symbol":      string(data.Symbol),
		}
		enforcement := e.governance.EnforceRules(ctx, id, GovernanceActionExecute, govCtx)
		if !enforcement.Allowed {
			if len(enforcement.Violations) == 0 {
				e.logger.Warn("strategy rejected by governance rules with no violations reported", zap.String("strategy", id))
				return NewRejectionResult(id, "governance", "GovernanceRule", "governance rejected with no violation reported")
			}
			primary := primaryViolation(enforcement.Violations)
			e.reporter.ReportCustom("governance_rule_violation", map[string]string{
				"strategy_id": id,
				"code":        primary.Code,
				"severity":    string(primary.Severity),
				"reason":      primary.Reason,
			})
			result := NewRejectionResult(id, "governance", primary.Code, primary.Reason)
			result.AdditionalData["severity"] = string(primary.Severity)
			return result
		}
	}

	e.reporter.ReportExecutionStart(id)
	e.states.touchExecution(id)

	// Gate 5: signal generation, timeout-bounded.
	sig, err := e.generateWithTimeout(ctx, s, data)
	if err != nil {
		e.reporter.ReportError(id, err)
		health := e.states.recordError(id, e.config.MaxConsecutiveErrors)
		e.logger.Warn("strategy generation failed", zap.String("strategy", id), zap.Error(err), zap.String("health", string(health)))
		code := "StrategyGenerationError"
		if errors.Is(err, ErrTimeout) {
			code = "StrategyTimeout"
		}
		result := NewRejectionResult(id, "generation", code, err.Error())
		result.Status = StatusFailed
		return result
	}
	if sig == nil {
		e.reporter.ReportNoSignal(id)
		e.states.recordSuccess(id)
		return nil
	}

	// Gate 6: entropy injection.
	if e.config.ApplyEntropy && e.entropy != nil {
		if drop := e.entropy.Inject(sig, s.EntropyScore()); drop {
			e.logger.Debug("signal dropped by entropy injection", zap.String("strategy", id))
			return NewRejectionResult(id, "entropy", "EntropyDrop", "signal dropped by entropy injection")
		}
	}

	// Gate 7: TTL defaulting happens here; the Created -> Validated
	// transition is applied only after risk validation succeeds (status only
	// advances once the signal is known good).
	if sig.Expiration == nil {
		sig.ApplyDefaultTTL(e.config.DefaultSignalTTL)
	}

	// Data-model invariant: an Enter signal must carry a price or be
	// flagged as a market order before it can be validated or sized.
	if err := sig.Validate(); err != nil {
		_ = sig.Transition(signal.StatusRejected)
		e.reporter.ReportRiskLimit(id, risk.ValidationOutcome{Result: risk.ResultSignalRejected, Reason: err.Error()})
		e.logger.Info("signal failed invariant validation", zap.String("strategy", id), zap.Error(err))
		return NewRejectionResult(id, "signal_validation", string(risk.ResultSignalRejected), err.Error())
	}

	// Gate 8: risk validation.
	outcome := e.riskMgr.ValidateSignal(sig, data)
	if outcome.Result != risk.ResultOK {
		_ = sig.Transition(signal.StatusRejected)
		e.reporter.ReportRiskLimit(id, outcome)
		e.logger.Info("signal rejected by risk manager", zap.String("strategy", id), zap.String("reason", outcome.Reason))
		return NewRejectionResult(id, "risk_validation", string(outcome.Result), outcome.Reason)
	}
	_ = sig.Transition(signal.StatusValidated)

	// Gate 9: sizing.
	sizing := e.riskMgr.CalculatePositionSize(sig, data)
	sig.Quantity = decimal.NewFromFloat(sizing.RiskAdjustedSize)
	_ = sig.Transition(signal.StatusReadyForExecution)

	// Gate 10: dispatch.
	return e.dispatch(ctx, s, sig, sizing)
}

// generateWithTimeout bounds a strategy's GenerateSignal call; the call is
// abandoned on timeout, the strategy must tolerate being orphaned.
func (e *Executor) generateWithTimeout(ctx context.Context, s strategy.Strategy, data *market.Data) (sig *signal.Signal, err error) {
	cctx, cancel := context.WithTimeout(ctx, e.config.StrategyExecutionTimeout)
	defer cancel()

	type result struct {
		sig *signal.Signal
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{nil, fmt.Errorf("strategy panicked: %v", r)}
			}
		}()
		generated, genErr := s.GenerateSignal(cctx, data)
		ch <- result{generated, genErr}
	}()

	select {
	case r := <-ch:
		return r.sig, r.err
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTimeout, s.Name())
	}
}

func (e *Executor) dispatch(ctx context.Context, s strategy.Strategy, sig *signal.Signal, sizing risk.PositionSizing) *ExecutionResult {
	id := s.Name()
	_ = sig.Transition(signal.StatusInProgress)

	req := NewExecutionRequest(sig, e.config.ExecutionMode)
	result, err := e.execService.Execute(ctx, req)
	if err != nil {
		_ = sig.Transition(signal.StatusFailed)
		e.reporter.ReportError(id, err)
		e.states.recordError(id, e.config.MaxConsecutiveErrors)
		return NewRejectionResult(id, "dispatch", "ExecutionError", err.Error())
	}
	result.StrategyID = id

	switch result.Status {
	case StatusOverloaded:
		delay := e.backoff.RecordOverload(id, time.Now())
		e.logger.Warn("execution service overloaded, backing off strategy", zap.String("strategy", id), zap.Duration("delay", delay))
		return result
	case StatusCompleted, StatusPartiallyFilled:
		_ = sig.Transition(signal.StatusExecuted)
		e.backoff.Reset(id)
		e.states.recordSuccess(id)
	default:
		_ = sig.Transition(signal.StatusFailed)
		e.states.recordError(id, e.config.MaxConsecutiveErrors)
	}

	sig.ExecutionResult = &signal.ExecutionResultRef{}
	*sig.ExecutionResult = result.ToResultRef()
	e.reporter.ReportExecutionComplete(id, *result)

	if err := s.OnSignalExecuted(sig, result.ToResultRef()); err != nil {
		e.logger.Warn("strategy OnSignalExecuted failed", zap.String("strategy", id), zap.Error(err))
	}

	e.postDispatchFeedback(ctx, id, sig, result)
	return result
}

// postDispatchFeedback wires the dispatch outcome into the risk manager and
// any configured feedback collaborators.
func (e *Executor) postDispatchFeedback(ctx context.Context, strategyID string, sig *signal.Signal, result *ExecutionResult) {
	perf := risk.Performance{
		RealizedPnL:   result.RealizedPnL,
		WasProfitable: result.RealizedPnL.IsPositive(),
		LastTrade: &risk.LastTrade{
			Symbol: sig.Symbol,
			Delta:  signedDelta(sig),
		},
	}
	e.riskMgr.UpdateMetrics(strategyID, perf)

	var collabErr error

	if e.drawdown != nil {
		equity := e.riskMgr.Metrics(strategyID).DailyPnL
		if err := e.drawdown.UpdateEquity(ctx, strategyID, equity); err != nil {
			collabErr = multierr.Append(collabErr, fmt.Errorf("drawdown tracker: %w", err))
		} else {
			current := e.drawdown.CurrentEquity(strategyID)
			maxEquity := e.drawdown.MaxEquity(strategyID)
			if !maxEquity.IsZero() {
				drawdownPct, _ := maxEquity.Sub(current).Div(maxEquity).Float64()
				if drawdownPct >= 0.05 {
					e.reporter.ReportCustom("significant_drawdown", map[string]string{
						"strategy_id":    strategyID,
						"current_equity": current.String(),
						"max_equity":     maxEquity.String(),
						"drawdown_pct":   fmt.Sprintf("%.4f", drawdownPct),
					})
				}
			}
		}
	}

	if e.attribution != nil && math.Abs(result.RealizedPnL.InexactFloat64()) > 1e-9 {
		if err := e.attribution.RecordExecution(ctx, strategyID, *result); err != nil {
			collabErr = multierr.Append(collabErr, fmt.Errorf("attribution record_execution: %w", err))
		} else if attr, err := e.attribution.CalculateAttribution(ctx, strategyID); err != nil {
			collabErr = multierr.Append(collabErr, fmt.Errorf("attribution calculate_attribution: %w", err))
		} else {
			e.applyAttributionRiskAdjustment(strategyID, attr)
		}
	}

	if e.factor != nil {
		now := time.Now()
		if err := e.factor.RecordReturn(ctx, strategyID, now, result.RealizedPnL.InexactFloat64()); err != nil {
			collabErr = multierr.Append(collabErr, fmt.Errorf("factor record_return: %w", err))
		}
		if e.states.dueForFactorAnalysis(strategyID, e.config.FactorAnalysisInterval, now) {
			e.runFactorAnalysis(ctx, strategyID)
		}
	}

	if collabErr != nil {
		e.logger.Warn("post-dispatch feedback collaborator error",
			zap.String("strategy", strategyID), zap.Error(collabErr))
	}
}

// runFactorAnalysis recomputes a strategy's factor exposures and applies a
// compensating risk modifier when SingleFactorOverexposure or
// CombinedExposureHigh alerts fire.
func (e *Executor) runFactorAnalysis(ctx context.Context, strategyID string) {
	profile, err := e.factor.AnalyzeExposures(ctx, strategyID)
	if err != nil {
		e.logger.Warn("factor analysis failed", zap.String("strategy", strategyID), zap.Error(err))
		return
	}

	combined := 1.0
	adjusted := false
	for _, alert := range profile.Alerts {
		var k float64
		switch alert.Type {
		case FactorAlertSingleFactorOverexposure:
			k = 0.2
		case FactorAlertCombinedExposureHigh:
			k = 0.15
		default:
			continue
		}
		severity := 0.0
		if alert.Threshold != 0 {
			severity = (alert.Value - alert.Threshold) / alert.Threshold
		}
		modifier := 1.0 - k*severity
		combined *= modifier
		adjusted = true
		e.reporter.ReportCustom("factor_exposure_alert", map[string]string{
			"strategy_id":   strategyID,
			"factor":        alert.Factor,
			"alert_type":    string(alert.Type),
			"risk_modifier": fmt.Sprintf("%.3f", modifier),
		})
	}

	if adjusted {
		e.riskMgr.ApplyRiskModifier(strategyID, "factor", combined)
	}
}

// applyAttributionRiskAdjustment compensates risk when execution or risk
// contributions are significantly negative.
func (e *Executor) applyAttributionRiskAdjustment(strategyID string, attr Attribution) {
	modifier := 1.0
	reason := ""

	if attr.ExecutionContribution < -0.1 {
		modifier *= math.Max(1+attr.ExecutionContribution, 0.5)
		reason = fmt.Sprintf("Poor execution efficiency (%.0f%%)", attr.ExecutionContribution*100)
	}
	if attr.RiskContribution < -0.15 {
		modifier *= math.Max(1+attr.RiskContribution, 0.5)
		if reason != "" {
			reason += " and "
		}
		reason += fmt.Sprintf("poor risk management (%.0f%%)", attr.RiskContribution*100)
	}

	if math.Abs(modifier-1.0) <= 0.05 {
		return
	}

	e.riskMgr.ApplyRiskModifier(strategyID, "attribution", modifier)
	e.reporter.ReportCustom("attribution_risk_adjustment", map[string]string{
		"strategy_id":   strategyID,
		"risk_modifier": fmt.Sprintf("%.3f", modifier),
		"reason":        reason,
	})
}

func primaryViolation(violations []GovernanceViolation) GovernanceViolation {
	best := violations[0]
	for _, v := range violations[1:] {
		if severityRank(v.Severity) > severityRank(best.Severity) {
			best = v
		}
	}
	return best
}

func severityRank(s GovernanceSeverity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// signedDelta returns the signal's quantity signed by its direction, the
// shape risk.LastTrade needs to update a strategy's net exposure.
func signedDelta(sig *signal.Signal) decimal.Decimal {
	switch sig.Direction {
	case signal.DirectionShort:
		return sig.Quantity.Neg()
	case signal.DirectionLong:
		return sig.Quantity
	default:
		return decimal.Zero
	}
}
