// Package feedback implements the Executor's optional post-dispatch
// collaborators: drawdown tracking, return attribution, factor exposure
// analysis, and governance rule enforcement.
package feedback

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DrawdownState classifies a strategy's current drawdown band.
type DrawdownState string

const (
	DrawdownNormal   DrawdownState = "normal"
	DrawdownWarning  DrawdownState = "warning"
	DrawdownCritical DrawdownState = "critical"
	DrawdownHalt     DrawdownState = "halt"
)

// DrawdownBands configures the percent thresholds and risk modifiers for
// each band. Bands are checked Halt -> Critical -> Warning -> Normal so the
// worst matching band wins.
type DrawdownBands struct {
	WarningPct   float64
	CriticalPct  float64
	HaltPct      float64
	NormalMod    float64
	WarningMod   float64
	CriticalMod  float64
	HaltMod      float64
}

// DefaultDrawdownBands returns the canonical warning/reduction/halt bands.
func DefaultDrawdownBands() DrawdownBands {
	return DrawdownBands{
		WarningPct:  0.10,
		CriticalPct: 0.15,
		HaltPct:     0.35,
		NormalMod:   1.0,
		WarningMod:  0.75,
		CriticalMod: 0.5,
		HaltMod:     0.25,
	}
}

type drawdownEntry struct {
	current decimal.Decimal
	peak    decimal.Decimal
}

// DrawdownTracker maintains a per-strategy high-water-mark equity and
// classifies the resulting drawdown into a band with a monotone
// non-increasing risk modifier. Satisfies both internal/executor's
// DrawdownTracker interface and internal/risk's DrawdownModifierSource,
// so one instance can be wired to both collaborators.
type DrawdownTracker struct {
	logger *zap.Logger
	bands  DrawdownBands

	mu      sync.RWMutex
	byStrat map[string]*drawdownEntry
}

// NewDrawdownTracker constructs a tracker with the given bands.
func NewDrawdownTracker(logger *zap.Logger, bands DrawdownBands) *DrawdownTracker {
	return &DrawdownTracker{
		logger:  logger.Named("drawdown-tracker"),
		bands:   bands,
		byStrat: make(map[string]*drawdownEntry),
	}
}

func (d *DrawdownTracker) entry(strategyID string) *drawdownEntry {
	d.mu.RLock()
	e, ok := d.byStrat[strategyID]
	d.mu.RUnlock()
	if ok {
		return e
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byStrat[strategyID]; ok {
		return e
	}
	e = &drawdownEntry{current: decimal.Zero, peak: decimal.Zero}
	d.byStrat[strategyID] = e
	return e
}

// UpdateEquity records a new equity reading and advances the high-water
// mark monotonically upward.
func (d *DrawdownTracker) UpdateEquity(ctx context.Context, strategyID string, equity decimal.Decimal) error {
	e := d.entry(strategyID)
	d.mu.Lock()
	defer d.mu.Unlock()
	e.current = equity
	if equity.GreaterThan(e.peak) {
		e.peak = equity
	}
	return nil
}

// CurrentEquity returns the last recorded equity for strategyID.
func (d *DrawdownTracker) CurrentEquity(strategyID string) decimal.Decimal {
	e := d.entry(strategyID)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return e.current
}

// MaxEquity returns the high-water-mark equity for strategyID.
func (d *DrawdownTracker) MaxEquity(strategyID string) decimal.Decimal {
	e := d.entry(strategyID)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return e.peak
}

// drawdownPct returns (peak - current) / peak, or 0 if current >= peak or
// peak is zero.
func (d *DrawdownTracker) drawdownPct(strategyID string) float64 {
	e := d.entry(strategyID)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e.peak.IsZero() || !e.current.LessThan(e.peak) {
		return 0
	}
	pct, _ := e.peak.Sub(e.current).Div(e.peak).Float64()
	return pct
}

// State classifies the current drawdown into a band.
func (d *DrawdownTracker) State(strategyID string) DrawdownState {
	pct := d.drawdownPct(strategyID)
	switch {
	case pct >= d.bands.HaltPct:
		return DrawdownHalt
	case pct >= d.bands.CriticalPct:
		return DrawdownCritical
	case pct >= d.bands.WarningPct:
		return DrawdownWarning
	default:
		return DrawdownNormal
	}
}

// RiskModifier returns the modifier for the strategy's current drawdown
// band. Satisfies both risk.DrawdownModifierSource and
// executor.DrawdownTracker.
func (d *DrawdownTracker) RiskModifier(strategyID string) float64 {
	switch d.State(strategyID) {
	case DrawdownHalt:
		return d.bands.HaltMod
	case DrawdownCritical:
		return d.bands.CriticalMod
	case DrawdownWarning:
		return d.bands.WarningMod
	default:
		return d.bands.NormalMod
	}
}
