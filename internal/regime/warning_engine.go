// Package regime implements the RegimeWarningEngine: leading-indicator
// evaluation, regime-shift forecasting, and strategy prep signals.
package regime

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/orderflow"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"go.uber.org/zap"
)

// Indicator names a leading indicator the engine watches.
type Indicator string

const (
	IndicatorVolatilitySpike  Indicator = "volatility_spike"
	IndicatorMomentumReversal Indicator = "momentum_reversal"
	IndicatorVolumeAnomaly    Indicator = "volume_anomaly"
	IndicatorSocialSentiment  Indicator = "social_sentiment"
	IndicatorOrderBookSkew    Indicator = "order_book_skew"
)

// Direction is the directional bias a warning implies.
type Direction string

const (
	DirectionBullish   Direction = "bullish"
	DirectionBearish   Direction = "bearish"
	DirectionVolatile  Direction = "volatile"
	DirectionSideways  Direction = "sideways"
	DirectionUndefined Direction = "undefined"
)

// RegimeType is the qualitative market state the forecast predicts over.
type RegimeType string

const (
	RegimeBull     RegimeType = "bull"
	RegimeBear     RegimeType = "bear"
	RegimeSideways RegimeType = "sideways"
	RegimeVolatile RegimeType = "volatile"
	RegimeUnknown  RegimeType = "unknown"
)

// directionToRegime maps a warning's direction to the regime it biases
// toward for forecast synthesis.
func directionToRegime(d Direction) RegimeType {
	switch d {
	case DirectionBullish:
		return RegimeBull
	case DirectionBearish:
		return RegimeBear
	case DirectionVolatile:
		return RegimeVolatile
	case DirectionSideways:
		return RegimeSideways
	default:
		return RegimeUnknown
	}
}

// Warning is one RegimeWarning reading.
type Warning struct {
	Indicator  Indicator
	Symbol     market.Symbol
	Value      float64
	Threshold  float64
	Confidence float64
	Direction  Direction
	Timestamp  time.Time
}

// RegimeForecast is the probability distribution over regime states plus an
// estimated time-to-shift.
type RegimeForecast struct {
	Symbol           market.Symbol
	CurrentRegime    RegimeType
	Probabilities    map[RegimeType]float64
	PredictedRegime  RegimeType
	TimeToShift      time.Duration
	GeneratedAt      time.Time
}

// StrategyPrepSignal recommends warming up or cooling down strategies ahead
// of a forecast regime shift.
type StrategyPrepSignal struct {
	Symbol            market.Symbol
	PredictedRegime   RegimeType
	Confidence        float64
	WarmupStrategies  []string
	CooldownStrategies []string
	GeneratedAt       time.Time
}

// IndicatorConfig configures a single indicator's threshold/cooldown/decay.
type IndicatorConfig struct {
	Threshold     float64
	Cooldown      time.Duration
	Decay         time.Duration
	MinConfidence float64
	Enabled       bool
}

// Config holds the regime warning engine's tunable thresholds.
type Config struct {
	PollInterval        time.Duration
	Indicators          map[Indicator]IndicatorConfig
	MinForecastConfidence float64
	WarmupStrategies     map[RegimeType][]string
	CooldownStrategies   map[RegimeType][]string
}

// DefaultConfig returns sane per-indicator defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Indicators: map[Indicator]IndicatorConfig{
			IndicatorVolatilitySpike:  {Threshold: 2.5, Cooldown: 30 * time.Second, Decay: 5 * time.Minute, MinConfidence: 0.5, Enabled: true},
			IndicatorMomentumReversal: {Threshold: 0.6, Cooldown: 30 * time.Second, Decay: 5 * time.Minute, MinConfidence: 0.5, Enabled: true},
			IndicatorVolumeAnomaly:    {Threshold: 2.0, Cooldown: 30 * time.Second, Decay: 5 * time.Minute, MinConfidence: 0.5, Enabled: true},
			IndicatorSocialSentiment:  {Threshold: 0.7, Cooldown: time.Minute, Decay: 10 * time.Minute, MinConfidence: 0.5, Enabled: false},
			IndicatorOrderBookSkew:    {Threshold: 0.5, Cooldown: 30 * time.Second, Decay: 5 * time.Minute, MinConfidence: 0.5, Enabled: true},
		},
		MinForecastConfidence: 0.2,
		WarmupStrategies: map[RegimeType][]string{
			RegimeBear:     {"short", "hedging", "defensive"},
			RegimeBull:     {"momentum", "trend_following", "breakout"},
			RegimeVolatile: {"volatility", "straddle"},
			RegimeSideways: {"mean_reversion", "range"},
		},
		CooldownStrategies: map[RegimeType][]string{
			RegimeBear:     {"breakout_momentum", "long_momentum"},
			RegimeBull:     {"mean_reversion", "short"},
			RegimeVolatile: {"tight_stops", "leverage"},
			RegimeSideways: {"breakout", "trend_following"},
		},
	}
}

type symbolHistory struct {
	mu        sync.Mutex
	returns   []float64
	volumes   []float64
	lastPrice float64
	havePrice bool
	current   RegimeType
}

func newSymbolHistory() *symbolHistory {
	return &symbolHistory{current: RegimeUnknown}
}

// Engine is the RegimeWarningEngine.
type Engine struct {
	logger   *zap.Logger
	cfgMu    sync.RWMutex
	config   Config
	cooldown *orderflow.CooldownTracker

	mu      sync.RWMutex
	history map[market.Symbol]*symbolHistory

	activeWarnings map[market.Symbol][]Warning
}

// New constructs an Engine.
func New(logger *zap.Logger, config Config) *Engine {
	return &Engine{
		logger:         logger.Named("regime-warning-engine"),
		config:         config,
		cooldown:       orderflow.NewCooldownTracker(),
		history:        make(map[market.Symbol]*symbolHistory),
		activeWarnings: make(map[market.Symbol][]Warning),
	}
}

// UpdateIndicators swaps the engine's per-indicator thresholds in place;
// the change takes effect on the next Evaluate or decay tick. Used to
// apply a hot config reload without restarting the engine.
func (e *Engine) UpdateIndicators(indicators map[Indicator]IndicatorConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.config.Indicators = indicators
}

func (e *Engine) indicatorConfig(ind Indicator) IndicatorConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.config.Indicators[ind]
}

func (e *Engine) indicatorsSnapshot() map[Indicator]IndicatorConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	out := make(map[Indicator]IndicatorConfig, len(e.config.Indicators))
	for k, v := range e.config.Indicators {
		out[k] = v
	}
	return out
}

func (e *Engine) historyFor(symbol market.Symbol) *symbolHistory {
	e.mu.RLock()
	h, ok := e.history[symbol]
	e.mu.RUnlock()
	if ok {
		return h
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok = e.history[symbol]
	if ok {
		return h
	}
	h = newSymbolHistory()
	e.history[symbol] = h
	return h
}

// Poll runs the engine's fixed-interval tick loop until ctx is cancelled.
// Callers also invoke Evaluate directly on market-data updates; Poll only
// drives the decay/cleanup side of the cooldown state.
func (e *Engine) Poll(ctx context.Context) error {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.decayAll(time.Now())
		}
	}
}

func (e *Engine) decayAll(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, warnings := range e.activeWarnings {
		kept := warnings[:0]
		for _, w := range warnings {
			cfg := e.indicatorConfig(w.Indicator)
			if !e.cooldown.Decayed(string(symbol), string(w.Indicator), now, cfg.Decay) {
				kept = append(kept, w)
			}
		}
		e.activeWarnings[symbol] = kept
	}
}

// Evaluate computes every enabled indicator's value for symbol, applies the
// threshold/cooldown/confidence gate, and returns any freshly emitted
// warnings.
func (e *Engine) Evaluate(symbol market.Symbol, md *market.Data) []Warning {
	h := e.historyFor(symbol)
	h.mu.Lock()
	if price, _ := md.Ticker.Last.Float64(); price > 0 {
		if h.havePrice && h.lastPrice > 0 {
			ret := (price - h.lastPrice) / h.lastPrice
			h.returns = append(h.returns, ret)
			if len(h.returns) > 200 {
				h.returns = h.returns[len(h.returns)-200:]
			}
		}
		h.lastPrice = price
		h.havePrice = true
	}
	if vol, ok := md.Indicator("derived", "volume_ratio"); ok {
		h.volumes = append(h.volumes, vol)
		if len(h.volumes) > 200 {
			h.volumes = h.volumes[len(h.volumes)-200:]
		}
	}
	returns := append([]float64(nil), h.returns...)
	volumes := append([]float64(nil), h.volumes...)
	h.mu.Unlock()

	now := time.Now()
	var emitted []Warning

	for indicator, cfg := range e.indicatorsSnapshot() {
		if !cfg.Enabled {
			continue
		}
		value, direction, ok := e.computeIndicator(indicator, md, returns, volumes)
		if !ok {
			continue
		}
		if !e.cooldown.Allow(string(symbol), string(indicator), now, cfg.Cooldown) {
			continue
		}
		if value <= cfg.Threshold {
			continue
		}

		confidence := clamp((value-cfg.Threshold)/(0.5*cfg.Threshold), 0, 0.95)
		if confidence < cfg.MinConfidence {
			continue
		}

		w := Warning{
			Indicator:  indicator,
			Symbol:     symbol,
			Value:      value,
			Threshold:  cfg.Threshold,
			Confidence: confidence,
			Direction:  direction,
			Timestamp:  now,
		}
		e.cooldown.Record(string(symbol), string(indicator), now)

		e.mu.Lock()
		e.activeWarnings[symbol] = append(e.activeWarnings[symbol], w)
		e.mu.Unlock()

		emitted = append(emitted, w)
	}

	return emitted
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

// computeIndicator evaluates one indicator's value and implied direction.
func (e *Engine) computeIndicator(indicator Indicator, md *market.Data, returns, volumes []float64) (value float64, direction Direction, ok bool) {
	switch indicator {
	case IndicatorVolatilitySpike:
		if len(returns) < 10 {
			return 0, DirectionUndefined, false
		}
		z := zScore(returns)
		return math.Abs(z), DirectionVolatile, true

	case IndicatorMomentumReversal:
		if len(returns) < 10 {
			return 0, DirectionUndefined, false
		}
		recent := returns[len(returns)-5:]
		prior := returns[len(returns)-10 : len(returns)-5]
		recentSum := sumF(recent)
		priorSum := sumF(prior)
		if (priorSum > 0 && recentSum < 0) || (priorSum < 0 && recentSum > 0) {
			mag := math.Abs(recentSum-priorSum) / (math.Abs(priorSum) + 1e-9)
			dir := DirectionBearish
			if recentSum > 0 {
				dir = DirectionBullish
			}
			return mag, dir, true
		}
		return 0, DirectionUndefined, false

	case IndicatorVolumeAnomaly:
		if len(volumes) < 5 {
			return 0, DirectionUndefined, false
		}
		ratio := volumes[len(volumes)-1]
		return ratio, DirectionVolatile, true

	case IndicatorOrderBookSkew:
		if md.OrderBook == nil || len(md.OrderBook.Bids) == 0 || len(md.OrderBook.Asks) == 0 {
			return 0, DirectionUndefined, false
		}
		bidQty := market.SumDepth(md.OrderBook.Bids, 10)
		askQty := market.SumDepth(md.OrderBook.Asks, 10)
		bidF, _ := bidQty.Float64()
		askF, _ := askQty.Float64()
		total := bidF + askF
		if total == 0 {
			return 0, DirectionUndefined, false
		}
		skew := (bidF - askF) / total
		dir := DirectionBullish
		if skew < 0 {
			dir = DirectionBearish
		}
		return math.Abs(skew), dir, true

	case IndicatorSocialSentiment:
		// No social data feed is wired into market.Data; this indicator is
		// disabled by default and always reports no signal.
		return 0, DirectionUndefined, false

	default:
		return 0, DirectionUndefined, false
	}
}

func sumF(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum
}

func zScore(returns []float64) float64 {
	mean := sumF(returns) / float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		return 0
	}
	last := returns[len(returns)-1]
	return (last - mean) / sigma
}

// Forecast synthesizes a RegimeForecast and optional StrategyPrepSignal
// from a symbol's currently active warnings.
func (e *Engine) Forecast(symbol market.Symbol) (*RegimeForecast, *StrategyPrepSignal) {
	h := e.historyFor(symbol)
	h.mu.Lock()
	current := h.current
	h.mu.Unlock()

	e.mu.RLock()
	warnings := append([]Warning(nil), e.activeWarnings[symbol]...)
	e.mu.RUnlock()

	weights := map[RegimeType]float64{current: 0.5}
	for _, w := range warnings {
		target := directionToRegime(w.Direction)
		weights[target] += w.Confidence * 0.1
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	probs := make(map[RegimeType]float64, len(weights))
	if total > 0 {
		for regime, w := range weights {
			probs[regime] = w / total
		}
	}

	// The predicted regime is the most probable regime other than the
	// current one; it stays the current regime when no warning points away.
	maxRegime := current
	maxWeight := 0.0
	for regime, w := range probs {
		if regime == current {
			continue
		}
		if w > maxWeight {
			maxWeight = w
			maxRegime = regime
		}
	}

	forecast := &RegimeForecast{
		Symbol:          symbol,
		CurrentRegime:   current,
		Probabilities:   probs,
		PredictedRegime: maxRegime,
		GeneratedAt:     time.Now(),
	}

	if maxRegime == current || maxWeight < e.config.MinForecastConfidence {
		return forecast, nil
	}

	prep := &StrategyPrepSignal{
		Symbol:             symbol,
		PredictedRegime:    maxRegime,
		Confidence:         maxWeight,
		WarmupStrategies:   e.config.WarmupStrategies[maxRegime],
		CooldownStrategies: e.config.CooldownStrategies[maxRegime],
		GeneratedAt:        time.Now(),
	}
	return forecast, prep
}

// SetCurrentRegime updates a symbol's baseline regime, e.g. after an
// external or higher-confidence classification.
func (e *Engine) SetCurrentRegime(symbol market.Symbol, regime RegimeType) {
	h := e.historyFor(symbol)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = regime
}

// String implements fmt.Stringer for RegimeType, used in log fields.
func (r RegimeType) String() string { return string(r) }

// SizingAdjustment returns a multiplicative position-sizing factor in
// (0,1] derived from the symbol's current forecast, satisfying
// risk.RegimeSizingSource for the market-regime-aware volatility aversion
// term. A forecasted shift toward RegimeVolatile shrinks the factor in
// proportion to its probability; every other predicted regime
// is left neutral.
func (e *Engine) SizingAdjustment(symbol market.Symbol) float64 {
	forecast, _ := e.Forecast(symbol)
	if forecast == nil || forecast.PredictedRegime != RegimeVolatile {
		return 1.0
	}
	return clamp(1.0-forecast.Probabilities[RegimeVolatile]*0.5, 0.5, 1.0)
}
