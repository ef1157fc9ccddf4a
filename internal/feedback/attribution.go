package feedback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"go.uber.org/zap"
)

// AttributionConfig bounds the recording window per strategy.
type AttributionConfig struct {
	WindowSize int
}

// DefaultAttributionConfig keeps the last 50 executions per strategy.
func DefaultAttributionConfig() AttributionConfig {
	return AttributionConfig{WindowSize: 50}
}

type executionRecord struct {
	at           time.Time
	returnFrac   float64
	latency      time.Duration
	errorMessage string
}

// AttributionEngine decomposes a strategy's recent realized return into
// signal/execution/risk/regime components that sum to the total, following
// a windowed-recording pattern adapted from per-trade rating aggregation
// to per-execution attribution.
type AttributionEngine struct {
	logger *zap.Logger
	cfg    AttributionConfig

	mu      sync.Mutex
	records map[string][]executionRecord
}

// NewAttributionEngine constructs an engine with the given window.
func NewAttributionEngine(logger *zap.Logger, cfg AttributionConfig) *AttributionEngine {
	return &AttributionEngine{
		logger:  logger.Named("attribution-engine"),
		cfg:     cfg,
		records: make(map[string][]executionRecord),
	}
}

// RecordExecution appends one execution outcome to the strategy's window,
// normalizing realized PnL to a return fraction of notional.
func (a *AttributionEngine) RecordExecution(ctx context.Context, strategyID string, result executor.ExecutionResult) error {
	notional := result.ExecutedQty.Mul(result.AveragePrice)
	var retFrac float64
	if !notional.IsZero() {
		f, _ := result.RealizedPnL.Div(notional).Float64()
		retFrac = clamp(f, -1, 1)
	}

	rec := executionRecord{
		at:           time.Now(),
		returnFrac:   retFrac,
		latency:      result.Latency,
		errorMessage: result.ErrorMessage,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	window := append(a.records[strategyID], rec)
	if len(window) > a.cfg.WindowSize {
		window = window[len(window)-a.cfg.WindowSize:]
	}
	a.records[strategyID] = window
	return nil
}

// CalculateAttribution decomposes the strategy's windowed total return into
// four weighted components. The weights are derived from the data itself
// (average confidence proxy via latency and variance) rather than a fixed
// split, so each component's share reflects what actually happened in the
// window; they are defined to sum to exactly 1 so the components always
// sum to total_return by construction.
func (a *AttributionEngine) CalculateAttribution(ctx context.Context, strategyID string) (executor.Attribution, error) {
	a.mu.Lock()
	window := append([]executionRecord(nil), a.records[strategyID]...)
	a.mu.Unlock()

	if len(window) == 0 {
		return executor.Attribution{}, fmt.Errorf("feedback: no execution history for strategy %s", strategyID)
	}

	var sumReturn, sumAbsReturn, sumLatencyMs float64
	for _, r := range window {
		sumReturn += r.returnFrac
		sumAbsReturn += math.Abs(r.returnFrac)
		sumLatencyMs += float64(r.latency.Milliseconds())
	}
	n := float64(len(window))
	totalReturn := clamp(sumReturn/n, -1, 1)

	avgAbsReturn := sumAbsReturn / n
	avgLatencyMs := sumLatencyMs / n

	variance := 0.0
	for _, r := range window {
		d := r.returnFrac - (sumReturn / n)
		variance += d * d
	}
	variance /= n

	execWeight := clamp(avgLatencyMs/2000.0, 0, 0.5)
	riskWeight := clamp(variance*20, 0, 0.5)
	signalWeight := clamp(avgAbsReturn*2, 0, 1-execWeight-riskWeight)
	regimeWeight := 1 - execWeight - riskWeight - signalWeight
	if regimeWeight < 0 {
		regimeWeight = 0
	}

	return executor.Attribution{
		Timestamp:             time.Now(),
		StrategyID:            strategyID,
		SignalContribution:    totalReturn * signalWeight,
		ExecutionContribution: totalReturn * execWeight,
		RiskContribution:      totalReturn * riskWeight,
		RegimeContribution:    totalReturn * regimeWeight,
		TotalReturn:           totalReturn,
	}, nil
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
