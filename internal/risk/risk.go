// Package risk implements the RiskManager: signal validation, position
// sizing, market risk assessment, and per-strategy metric tracking.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result enumerates the possible outcomes of ValidateSignal.
type Result string

const (
	ResultOK                        Result = "ok"
	ResultSignalRejected            Result = "signal_rejected"
	ResultRiskLimitBreached         Result = "risk_limit_breached"
	ResultTrustScoreTooLow          Result = "trust_score_too_low"
	ResultUnsuitableMarketConditions Result = "unsuitable_market_conditions"
	ResultPositionLimitReached      Result = "position_limit_reached"
	ResultStrategyDisabled          Result = "strategy_disabled"
)

// ValidationOutcome is the full result of a validate call.
type ValidationOutcome struct {
	Result  Result
	Reason  string
	Code    string
}

func ok() ValidationOutcome { return ValidationOutcome{Result: ResultOK} }

// PositionDirection mirrors the strategy's current net exposure direction.
type PositionDirection string

const (
	PositionNeutral PositionDirection = "neutral"
	PositionLong    PositionDirection = "long"
	PositionShort   PositionDirection = "short"
)

// exposureEpsilon is the threshold below which exposure is considered flat.
const exposureEpsilon = 1e-9

// RiskProfile is per-strategy configuration.
type RiskProfile struct {
	PositionSize            float64
	UseStopLoss             bool
	MaxSlippage             float64
	VolatilityAversion      float64
	MaxDrawdown             float64
	MaxConsecutiveLosses    int
	EvaluationWindowSeconds int
	PositionSizingFactor    float64
	StrictValidation        bool
	IsActive                bool
	MinWinRate              float64
}

// DefaultRiskProfile returns sensible per-strategy defaults.
func DefaultRiskProfile() RiskProfile {
	return RiskProfile{
		PositionSize:            0.1,
		UseStopLoss:             true,
		MaxSlippage:             0.01,
		VolatilityAversion:      0.5,
		MaxDrawdown:             0.2,
		MaxConsecutiveLosses:    5,
		EvaluationWindowSeconds: 3600,
		PositionSizingFactor:    1.0,
		StrictValidation:        false,
		IsActive:                true,
		MinWinRate:              0.3,
	}
}

// Metrics is per-strategy running risk state.
type Metrics struct {
	CurrentExposure     decimal.Decimal
	DailyPnL            decimal.Decimal
	TotalTrades         int
	ProfitableTrades    int
	Positions           map[market.Symbol]decimal.Decimal // signed size
	ActiveTrades        int
	CurrentDrawdown     float64
	MaxDrawdown         float64
	WinRate             float64
	ProfitFactor        float64
	SharpeRatio         *float64
	PositionDirection   PositionDirection
	Enabled             bool
	TrustScore          float64
	ConsecutiveLosses   int
	HistoricalVolatility *float64
	MaxDrawdownPct      float64
	RiskAdjustedReturn  *float64
}

func newMetrics() *Metrics {
	return &Metrics{
		Positions:  make(map[market.Symbol]decimal.Decimal),
		Enabled:    true,
		TrustScore: 0.7,
	}
}

// recomputeDerived enforces current_exposure = Σ|positions|, active_trades,
// and position_direction invariants.
func (m *Metrics) recomputeDerived() {
	total := decimal.Zero
	active := 0
	net := decimal.Zero
	for _, size := range m.Positions {
		total = total.Add(size.Abs())
		if !size.IsZero() {
			active++
		}
		net = net.Add(size)
	}
	m.CurrentExposure = total
	m.ActiveTrades = active

	netF, _ := net.Float64()
	switch {
	case netF > exposureEpsilon:
		m.PositionDirection = PositionLong
	case netF < -exposureEpsilon:
		m.PositionDirection = PositionShort
	default:
		m.PositionDirection = PositionNeutral
	}
}

// PositionSizing is the sizing decision returned by CalculatePositionSize.
type PositionSizing struct {
	RecommendedSize  float64
	MaxSize          float64
	RiskAdjustedSize float64
	RiskFactor       float64
	SizingReason     string
	Adjustments      map[string]float64
	IsMaxSize        bool
	Confidence       float64
}

// MarketRiskAssessment is the output of AssessMarketRisk.
type MarketRiskAssessment struct {
	Volatility   float64
	Liquidity    float64
	Trend        float64
	SpreadPct    float64
	Depth        float64
	MarketImpact float64
	RiskScore    float64
	Suitable     bool
}

// DrawdownModifierSource supplies a per-strategy risk modifier in [0.25,1.0].
type DrawdownModifierSource interface {
	RiskModifier(strategyID string) float64
}

// noDrawdown is used when no tracker is configured; it is neutral.
type noDrawdown struct{}

func (noDrawdown) RiskModifier(string) float64 { return 1.0 }

// Config holds the risk manager's tunable thresholds.
type Config struct {
	MinSignalConfidence  float64
	MinTrustScore        float64
	MaxVolatility        float64
	MinLiquidity         float64
	MaxConcurrentTrades  int
	MaxStrategyAllocation float64
	MaxDailyDrawdown     float64
	MaxPortfolioAllocation float64
	MaxPositionSize      float64
	ApplyVolatilityFactor bool
	ExemptStrategies     map[string]bool
	UseRegimeSizing      bool
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		MinSignalConfidence:    0.3,
		MinTrustScore:          0.3,
		MaxVolatility:          0.7,
		MinLiquidity:           0.2,
		MaxConcurrentTrades:    10,
		MaxStrategyAllocation:  0.25,
		MaxDailyDrawdown:       0.1,
		MaxPortfolioAllocation: 0.75,
		MaxPositionSize:        0.25,
		ApplyVolatilityFactor:  true,
		ExemptStrategies:       map[string]bool{},
		UseRegimeSizing:        false,
	}
}

// RegimeSizingSource supplies an optional regime-forecast-derived adjustment
// factor, gated by Config.UseRegimeSizing.
type RegimeSizingSource interface {
	SizingAdjustment(symbol market.Symbol) float64
}

// Manager is the RiskManager.
type Manager struct {
	logger *zap.Logger
	config Config

	mu       sync.RWMutex
	profiles map[string]RiskProfile
	metrics  map[string]*Metrics

	portfolioExposure decimal.Decimal

	drawdown DrawdownModifierSource
	regime   RegimeSizingSource

	// feedbackModifiers holds compensating risk modifiers closed back in by
	// the attribution and factor-analysis feedback loops (strategyID ->
	// source -> modifier), multiplied into sizing alongside the other
	// adjustment factors.
	feedbackModifiers map[string]map[string]float64

	disabledUntil map[string]time.Time // strategy-wide latch on repeated failures
	violations    []ValidationOutcome
}

// New creates a RiskManager.
func New(logger *zap.Logger, config Config) *Manager {
	return &Manager{
		logger:            logger.Named("risk-manager"),
		config:            config,
		profiles:          make(map[string]RiskProfile),
		metrics:           make(map[string]*Metrics),
		drawdown:          noDrawdown{},
		feedbackModifiers: make(map[string]map[string]float64),
		disabledUntil:     make(map[string]time.Time),
	}
}

// SetDrawdownSource wires in the DrawdownTracker collaborator.
func (m *Manager) SetDrawdownSource(d DrawdownModifierSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		m.drawdown = noDrawdown{}
		return
	}
	m.drawdown = d
}

// SetRegimeSource wires in the optional regime-forecast sizing collaborator.
func (m *Manager) SetRegimeSource(r RegimeSizingSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regime = r
}

// ApplyRiskModifier records a compensating risk modifier closed back in by
// a feedback loop (attribution, factor analysis, ...) for a strategy.
// source distinguishes independent feedback loops so one doesn't overwrite
// another's effect; the modifier replaces any previously applied value
// from the same source, and CalculatePositionSize multiplies in every
// source's current modifier for the strategy.
func (m *Manager) ApplyRiskModifier(strategyID, source string, modifier float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedbackModifiers == nil {
		m.feedbackModifiers = make(map[string]map[string]float64)
	}
	if m.feedbackModifiers[strategyID] == nil {
		m.feedbackModifiers[strategyID] = make(map[string]float64)
	}
	m.feedbackModifiers[strategyID][source] = modifier
}

// RegisterStrategy installs a risk profile and fresh metrics for a strategy.
func (m *Manager) RegisterStrategy(strategyID string, profile RiskProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[strategyID] = profile
	if _, ok := m.metrics[strategyID]; !ok {
		m.metrics[strategyID] = newMetrics()
	}
}

// UnregisterStrategy removes a strategy's risk state.
func (m *Manager) UnregisterStrategy(strategyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, strategyID)
	delete(m.metrics, strategyID)
	delete(m.disabledUntil, strategyID)
}

func (m *Manager) metricsFor(strategyID string) *Metrics {
	mx, ok := m.metrics[strategyID]
	if !ok {
		mx = newMetrics()
		m.metrics[strategyID] = mx
	}
	return mx
}

// IsStrategyDisabled reports the latched disable gate.
func (m *Manager) IsStrategyDisabled(strategyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.disabledUntil[strategyID]
	if !ok {
		return false
	}
	return until.IsZero() || time.Now().Before(until)
}

// DisableStrategy latches a strategy off until ResetStrategy is called
// (until.IsZero()) or for a bounded duration.
func (m *Manager) DisableStrategy(strategyID string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabledUntil[strategyID] = until
}

// ResetStrategy clears the disable latch explicitly.
func (m *Manager) ResetStrategy(strategyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.disabledUntil, strategyID)
}

// ValidateSignal runs the fail-fast validation gate chain.
func (m *Manager) ValidateSignal(sig *signal.Signal, md *market.Data) ValidationOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config.ExemptStrategies[sig.StrategyID] {
		return ok()
	}

	if sig.Confidence < m.config.MinSignalConfidence {
		return ValidationOutcome{Result: ResultSignalRejected, Code: "RISK-CONF-LOW",
			Reason: fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, m.config.MinSignalConfidence)}
	}

	metrics := m.metrics[sig.StrategyID]
	if metrics == nil {
		metrics = newMetrics()
	}
	if metrics.TrustScore < m.config.MinTrustScore {
		return ValidationOutcome{Result: ResultTrustScoreTooLow, Code: "RISK-TRUST-LOW",
			Reason: fmt.Sprintf("Trust-based rejection: score %.2f below threshold %.2f", metrics.TrustScore, m.config.MinTrustScore)}
	}

	if md != nil {
		assessment := m.assessMarketRiskLocked(md)
		if !assessment.Suitable {
			return ValidationOutcome{Result: ResultUnsuitableMarketConditions, Code: "RISK-MARKET-UNSUITABLE",
				Reason: "market conditions unsuitable for execution"}
		}
	}

	if sig.Action == signal.ActionEnter {
		profile, hasProfile := m.profiles[sig.StrategyID]
		if hasProfile && !profile.IsActive {
			return ValidationOutcome{Result: ResultStrategyDisabled, Code: "RISK-STRATEGY-DISABLED",
				Reason: "strategy is disabled"}
		}

		if metrics.ActiveTrades >= m.config.MaxConcurrentTrades {
			return ValidationOutcome{Result: ResultPositionLimitReached, Code: "RISK-MAX-CONCURRENT",
				Reason: "max concurrent trades reached"}
		}
		exposureF, _ := metrics.CurrentExposure.Float64()
		if exposureF >= m.config.MaxStrategyAllocation {
			return ValidationOutcome{Result: ResultRiskLimitBreached, Code: "RISK-STRATEGY-ALLOC",
				Reason: "strategy allocation limit breached"}
		}
		dailyPnLF, _ := metrics.DailyPnL.Float64()
		if dailyPnLF <= -m.config.MaxDailyDrawdown {
			return ValidationOutcome{Result: ResultRiskLimitBreached, Code: "RISK-DAILY-DRAWDOWN",
				Reason: "daily drawdown limit breached"}
		}
		portfolioF, _ := m.portfolioExposure.Float64()
		if portfolioF >= m.config.MaxPortfolioAllocation {
			return ValidationOutcome{Result: ResultRiskLimitBreached, Code: "RISK-PORTFOLIO-ALLOC",
				Reason: "portfolio allocation limit breached"}
		}
		if metrics.ConsecutiveLosses > 5 {
			return ValidationOutcome{Result: ResultRiskLimitBreached, Code: "RISK-CONSECUTIVE-LOSSES",
				Reason: "consecutive loss limit breached"}
		}
		if !metrics.Enabled {
			return ValidationOutcome{Result: ResultStrategyDisabled, Code: "RISK-STRATEGY-DISABLED",
				Reason: "strategy disabled by metrics gate"}
		}
	}

	return ok()
}

// riskGradeFactor maps a risk grade to its sizing multiplier.
func riskGradeFactor(g signal.RiskGrade) float64 {
	switch g {
	case signal.RiskGradeLow:
		return 1.0
	case signal.RiskGradeMedium:
		return 0.8
	case signal.RiskGradeHigh:
		return 0.6
	case signal.RiskGradeExceptional:
		return 0.3
	default:
		return 1.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculatePositionSize implements the position-sizing table.
func (m *Manager) CalculatePositionSize(sig *signal.Signal, md *market.Data) PositionSizing {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[sig.StrategyID]
	if !ok {
		profile = DefaultRiskProfile()
	}
	metrics := m.metricsFor(sig.StrategyID)

	adjustments := make(map[string]float64)

	gradeFactor := riskGradeFactor(sig.RiskGrade)
	adjustments["risk_grade"] = gradeFactor

	strengthFactor := clamp(sig.Strength, 0.1, 1.0)
	adjustments["signal_strength"] = strengthFactor

	trustFactor := 1.0
	if m.config.MinTrustScore < 1.0 {
		trustFactor = 0.5 + 0.5*(metrics.TrustScore-m.config.MinTrustScore)/(1.0-m.config.MinTrustScore)
	}
	trustFactor = clamp(trustFactor, 0, 1.0)
	adjustments["trust_score"] = trustFactor

	if m.config.ApplyVolatilityFactor && md != nil {
		assessment := m.assessMarketRiskLocked(md)
		volFactor := 1.0 - assessment.Volatility
		if volFactor < 0.3 {
			volFactor = 0.3
		}
		adjustments["volatility"] = volFactor
	}

	drawdownFactor := m.drawdown.RiskModifier(sig.StrategyID)
	adjustments["drawdown"] = drawdownFactor

	if m.config.UseRegimeSizing && m.regime != nil {
		adjustments["regime"] = m.regime.SizingAdjustment(sig.Symbol)
	}

	for source, modifier := range m.feedbackModifiers[sig.StrategyID] {
		adjustments[source] = modifier
	}

	riskFactor := 1.0
	reasonParts := make([]string, 0, len(adjustments))
	for name, f := range adjustments {
		riskFactor *= f
		if f < 0.999 {
			reasonParts = append(reasonParts, fmt.Sprintf("%s=%.2f", name, f))
		}
	}

	recommended := profile.PositionSize * riskFactor
	riskAdjusted := recommended
	isMax := false
	if riskAdjusted > m.config.MaxPositionSize {
		riskAdjusted = m.config.MaxPositionSize
		isMax = true
	}

	reason := "base size scaled by active adjustments"
	if len(reasonParts) > 0 {
		reason = fmt.Sprintf("scaled by: %v", reasonParts)
	}

	return PositionSizing{
		RecommendedSize:  recommended,
		MaxSize:          m.config.MaxPositionSize,
		RiskAdjustedSize: riskAdjusted,
		RiskFactor:       riskFactor,
		SizingReason:     reason,
		Adjustments:      adjustments,
		IsMaxSize:        isMax,
		Confidence:       sig.Confidence,
	}
}

// AssessMarketRisk computes the market risk assessment from market.Data.
func (m *Manager) AssessMarketRisk(md *market.Data) MarketRiskAssessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assessMarketRiskLocked(md)
}

func (m *Manager) assessMarketRiskLocked(md *market.Data) MarketRiskAssessment {
	volatility := 0.3
	if rangeVol, ok := md.Indicator("derived", "bollinger_width"); ok {
		volatility = clamp(rangeVol, 0, 1)
	} else if !md.Ticker.Last.IsZero() && !md.Ticker.High.IsZero() && !md.Ticker.Low.IsZero() {
		rng := md.Ticker.High.Sub(md.Ticker.Low).Div(md.Ticker.Last)
		volatility = clamp(rng.InexactFloat64(), 0, 1)
	} else if !md.Ticker.Last.IsZero() {
		spreadPct := md.Ticker.Spread().Div(md.Ticker.Last)
		volatility = clamp(spreadPct.InexactFloat64()*10, 0, 1)
	}

	liquidity := 0.5
	spreadPct := 0.0
	depth := 0.0
	marketImpact := 0.0
	if md.OrderBook != nil && !md.Ticker.Last.IsZero() {
		depthDec := market.SumDepth(md.OrderBook.Bids, 10).Add(market.SumDepth(md.OrderBook.Asks, 10))
		depth, _ = depthDec.Float64()
		spreadPct = md.Ticker.Spread().Div(md.Ticker.Last).InexactFloat64()
		liquidity = clamp(1.0-spreadPct*20, 0, 1)
		if depth > 0 {
			marketImpact = 1.0 / (1.0 + depth)
		}
	}

	trend := 0.5
	if macd, ok := md.Indicator("derived", "macd_histogram"); ok {
		if macd > 0 {
			trend = clamp(0.5+macd, 0, 1)
		} else {
			trend = clamp(0.5+macd, 0, 1)
		}
	}
	if rsi, ok := md.Indicator("derived", "rsi14"); ok {
		rsiSignal := (rsi - 50) / 100
		trend = clamp((trend+0.5+rsiSignal)/2, 0, 1)
	}

	riskScore := volatility*0.5 + (1-liquidity)*0.3 + absF(trend-0.5)*0.2

	suitable := volatility <= m.config.MaxVolatility && liquidity >= m.config.MinLiquidity && riskScore <= 0.7

	return MarketRiskAssessment{
		Volatility:   volatility,
		Liquidity:    liquidity,
		Trend:        trend,
		SpreadPct:    spreadPct,
		Depth:        depth,
		MarketImpact: marketImpact,
		RiskScore:    riskScore,
		Suitable:     suitable,
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Performance is the delta merged into Metrics by UpdateMetrics.
type Performance struct {
	RealizedPnL    decimal.Decimal
	WasProfitable  bool
	TrustScore     *float64
	LastTrade      *LastTrade
}

// LastTrade describes the position delta from the most recent execution.
type LastTrade struct {
	Symbol market.Symbol
	Delta  decimal.Decimal // signed size delta
}

// UpdateMetrics merges an execution's performance delta into per-strategy
// RiskMetrics, recomputes portfolio exposure, and mirrors any reported trust
// score into the trust cache.
func (m *Manager) UpdateMetrics(strategyID string, perf Performance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(strategyID)

	metrics.TotalTrades++
	if perf.WasProfitable {
		metrics.ProfitableTrades++
		metrics.ConsecutiveLosses = 0
	} else {
		metrics.ConsecutiveLosses++
	}
	metrics.DailyPnL = metrics.DailyPnL.Add(perf.RealizedPnL)

	if metrics.TotalTrades > 0 {
		metrics.WinRate = float64(metrics.ProfitableTrades) / float64(metrics.TotalTrades)
	}

	if perf.TrustScore != nil {
		metrics.TrustScore = *perf.TrustScore
	}

	if perf.LastTrade != nil {
		cur := metrics.Positions[perf.LastTrade.Symbol]
		metrics.Positions[perf.LastTrade.Symbol] = cur.Add(perf.LastTrade.Delta)
	}
	metrics.recomputeDerived()

	total := decimal.Zero
	for _, mx := range m.metrics {
		total = total.Add(mx.CurrentExposure)
	}
	m.portfolioExposure = total
}

// Metrics returns a copy of a strategy's current risk metrics.
func (m *Manager) Metrics(strategyID string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mx := m.metrics[strategyID]
	if mx == nil {
		return *newMetrics()
	}
	cp := *mx
	cp.Positions = make(map[market.Symbol]decimal.Decimal, len(mx.Positions))
	for k, v := range mx.Positions {
		cp.Positions[k] = v
	}
	return cp
}

// PortfolioExposure returns the sum of every strategy's current exposure.
func (m *Manager) PortfolioExposure() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolioExposure
}
