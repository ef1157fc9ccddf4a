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

// MeanReversionStrategy enters against the move when price deviates from
// its moving average by more than stdDevMult standard deviations.
type MeanReversionStrategy struct {
	Base
	period     int
	stdDevMult decimal.Decimal
}

// NewMeanReversionStrategy constructs a MeanReversionStrategy with teacher
// defaults.
func NewMeanReversionStrategy(logger *zap.Logger) *MeanReversionStrategy {
	profile := risk.DefaultRiskProfile()
	profile.VolatilityAversion = 0.7
	return &MeanReversionStrategy{
		Base:       NewBase(logger, profile),
		period:     20,
		stdDevMult: decimal.NewFromFloat(2.0),
	}
}

func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }

func (s *MeanReversionStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	candles := md.Candles[market.Timeframe1m]
	if len(candles) < s.period {
		return nil, nil
	}

	window := make([]decimal.Decimal, s.period)
	for i := 0; i < s.period; i++ {
		window[i] = candles[len(candles)-s.period+i].Close
	}
	sma := utils.CalculateMean(window)
	stdDev := utils.CalculateStdDev(window)
	if stdDev.IsZero() {
		return nil, nil
	}

	current := candles[len(candles)-1].Close
	upperBand := sma.Add(stdDev.Mul(s.stdDevMult))
	lowerBand := sma.Sub(stdDev.Mul(s.stdDevMult))

	switch {
	case current.LessThan(lowerBand):
		deviation := lowerBand.Sub(current).Div(stdDev)
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionLong)
		strength, _ := deviation.Div(s.stdDevMult).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(strength)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeLow
		sig.Metadata["reason"] = "price below lower band"
		return sig, nil

	case current.GreaterThan(upperBand):
		deviation := current.Sub(upperBand).Div(stdDev)
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionShort)
		strength, _ := deviation.Div(s.stdDevMult).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(strength)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeLow
		sig.Metadata["reason"] = "price above upper band"
		return sig, nil
	}

	return nil, nil
}
