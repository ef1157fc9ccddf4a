package strategy

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TrendFollowingStrategy enters in the direction of an EMA(fast)/EMA(slow)
// crossover.
type TrendFollowingStrategy struct {
	Base
	fastPeriod int
	slowPeriod int
}

// NewTrendFollowingStrategy constructs a TrendFollowingStrategy with
// teacher defaults.
func NewTrendFollowingStrategy(logger *zap.Logger) *TrendFollowingStrategy {
	profile := risk.DefaultRiskProfile()
	profile.PositionSizingFactor = 0.9
	return &TrendFollowingStrategy{
		Base:       NewBase(logger, profile),
		fastPeriod: 12,
		slowPeriod: 26,
	}
}

func (s *TrendFollowingStrategy) Name() string { return "trend_following" }

func (s *TrendFollowingStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	candles := md.Candles[market.Timeframe1m]
	if len(candles) <= s.slowPeriod+1 {
		return nil, nil
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fastNow, fastPrev := emaPair(closes, s.fastPeriod)
	slowNow, slowPrev := emaPair(closes, s.slowPeriod)

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)
	current := candles[len(candles)-1].Close
	separation := fastNow.Sub(slowNow).Abs().Div(slowNow)

	switch {
	case crossedUp:
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionLong)
		strength, _ := separation.Mul(decimal.NewFromInt(20)).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(clamp(strength, 0.3, 1.0))
		sig.SetConfidence(0.6)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "fast EMA crossed above slow EMA"
		return sig, nil

	case crossedDown:
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionShort)
		strength, _ := separation.Mul(decimal.NewFromInt(20)).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(clamp(strength, 0.3, 1.0))
		sig.SetConfidence(0.6)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "fast EMA crossed below slow EMA"
		return sig, nil
	}

	return nil, nil
}

// emaPair returns the EMA(period) value through the last bar and through
// the second-to-last bar, used to detect a crossover between consecutive
// bars.
func emaPair(closes []decimal.Decimal, period int) (now, prev decimal.Decimal) {
	e := utils.NewEMA(period)
	for _, c := range closes[:len(closes)-1] {
		e.Add(c)
	}
	prev = e.Current()
	now = e.Add(closes[len(closes)-1])
	return now, prev
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
