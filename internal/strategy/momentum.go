package strategy

import (
	"context"
	"sync"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MomentumStrategy enters long/short when the close-to-close return over a
// lookback period exceeds a threshold.
type MomentumStrategy struct {
	Base
	mu        sync.Mutex
	period    int
	threshold decimal.Decimal
}

// NewMomentumStrategy constructs a MomentumStrategy with teacher defaults.
func NewMomentumStrategy(logger *zap.Logger) *MomentumStrategy {
	profile := risk.DefaultRiskProfile()
	return &MomentumStrategy{
		Base:      NewBase(logger, profile),
		period:    14,
		threshold: decimal.NewFromFloat(0.02),
	}
}

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	candles := md.Candles[market.Timeframe1m]
	if len(candles) <= s.period {
		return nil, nil
	}

	current := candles[len(candles)-1].Close
	past := candles[len(candles)-1-s.period].Close
	if past.IsZero() {
		return nil, nil
	}

	momentum := current.Sub(past).Div(past)

	switch {
	case momentum.GreaterThan(s.threshold):
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionLong)
		strength, _ := momentum.Div(s.threshold).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(strength)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "positive momentum breakout"
		return sig, nil

	case momentum.LessThan(s.threshold.Neg()):
		sig := signal.New(s.Name(), md.Symbol, signal.ActionEnter, signal.DirectionShort)
		strength, _ := momentum.Abs().Div(s.threshold).Min(decimal.NewFromInt(1)).Float64()
		sig.SetStrength(strength)
		sig.SetConfidence(strength)
		sig.Price = current
		sig.RiskGrade = signal.RiskGradeMedium
		sig.Metadata["reason"] = "negative momentum breakout"
		return sig, nil
	}

	return nil, nil
}
