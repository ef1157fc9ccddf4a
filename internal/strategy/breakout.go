package strategy

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BreakoutStrategy enters when price clears its lookback high/low and the
// breakout bar's volume confirms against the recent average.
type BreakoutStrategy struct {
	Base
	lookback        int
	volumeMultiplier decimal.Decimal
}

// NewBreakoutStrategy constructs a BreakoutStrategy with teacher defaults.
func NewBreakoutStrategy(logger *zap.Logger) *BreakoutStrategy {
	profile := risk.DefaultRiskProfile()
	profile.VolatilityAversion = 0.5
	return &BreakoutStrategy{
		Base:             NewBase(logger, profile),
		lookback:         20,
		volumeMultiplier: decimal.NewFromFloat(1.5),
	}
}

func (s *BreakoutStrategy) Name() string { return "breakout" }

func (s *BreakoutStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	candles := md.Candles[market.Timeframe1m]
	if len(candles) <= s.lookback {
		return nil, nil
	}

	window := candles[len(candles)-1-s.lookback : len(candles)-1]
	current := candles[len(candles)-1]

	highestHigh := window[0].High
	lowestLow := window[0].Low
	volumeSum := decimal.Zero
	for _, c := range window {
		if c.High.GreaterThan(highestHigh) {
			highestHigh = c.High
		}
		if c.Low.LessThan(lowestLow) {
			lowestLow = c.Low
		}
		volumeSum = volumeSum.Add(c.Volume)
	}
	avgVolume := volumeSum.Div(decimal.NewFromInt(int64(len(window))))
	volumeConfirmed := avgVolume.IsPositive() && current.Volume.GreaterThanOrEqual(avgVolume.Mul(s.volumeMultiplier))

	switch {
	case current.Close.GreaterThan(highestHigh) && volumeConfirmed:
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionLong)
		strength, _ := current.Close.Sub(highestHigh).Div(highestHigh).Mul(decimal.NewFromInt(10)).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(0.7)
		sig.Price = current.Close
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "upside breakout with volume confirmation"
		return sig, nil

	case current.Close.LessThan(lowestLow) && volumeConfirmed:
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionShort)
		strength, _ := lowestLow.Sub(current.Close).Div(lowestLow).Mul(decimal.NewFromInt(10)).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(0.7)
		sig.Price = current.Close
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "downside breakout with volume confirmation"
		return sig, nil
	}

	return nil, nil
}
