package regime

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mdWithPrice(price float64) *market.Data {
	return &market.Data{
		Symbol: "BTC/USD",
		Ticker: market.Ticker{Last: decimal.NewFromFloat(price), Bid: decimal.NewFromFloat(price - 0.1), Ask: decimal.NewFromFloat(price + 0.1)},
	}
}

func TestEvaluateEmitsVolatilitySpike(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	price := 100.0
	for i := 0; i < 15; i++ {
		e.Evaluate("BTC/USD", mdWithPrice(price))
		price += 0.01
	}
	warnings := e.Evaluate("BTC/USD", mdWithPrice(price+50))
	found := false
	for _, w := range warnings {
		if w.Indicator == IndicatorVolatilitySpike {
			found = true
		}
	}
	require.True(t, found)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	price := 100.0
	for i := 0; i < 15; i++ {
		e.Evaluate("BTC/USD", mdWithPrice(price))
		price += 0.01
	}
	first := e.Evaluate("BTC/USD", mdWithPrice(price+50))
	second := e.Evaluate("BTC/USD", mdWithPrice(price+60))
	require.NotEmpty(t, first)
	require.Empty(t, second)
}

func TestForecastSynthesisEmitsStrategyPrep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinForecastConfidence = 0.2
	e := New(zap.NewNop(), cfg)
	e.SetCurrentRegime("BTC/USD", RegimeSideways)

	now := time.Now()
	e.mu.Lock()
	e.activeWarnings["BTC/USD"] = []Warning{
		{Indicator: IndicatorOrderBookSkew, Symbol: "BTC/USD", Confidence: 0.8, Direction: DirectionBearish, Timestamp: now},
		{Indicator: IndicatorMomentumReversal, Symbol: "BTC/USD", Confidence: 0.7, Direction: DirectionBearish, Timestamp: now},
		{Indicator: IndicatorVolatilitySpike, Symbol: "BTC/USD", Confidence: 0.6, Direction: DirectionBearish, Timestamp: now},
	}
	e.mu.Unlock()

	forecast, prep := e.Forecast("BTC/USD")
	require.Equal(t, RegimeSideways, forecast.CurrentRegime)
	require.NotNil(t, prep)
	require.Equal(t, RegimeBear, prep.PredictedRegime)
	require.NotEmpty(t, prep.WarmupStrategies)
}

func TestSizingAdjustmentShrinksOnForecastedVolatility(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinForecastConfidence = 0.1
	e := New(zap.NewNop(), cfg)
	e.SetCurrentRegime("BTC/USD", RegimeSideways)

	e.mu.Lock()
	e.activeWarnings["BTC/USD"] = []Warning{
		{Indicator: IndicatorVolatilitySpike, Symbol: "BTC/USD", Confidence: 0.9, Direction: DirectionVolatile, Timestamp: time.Now()},
	}
	e.mu.Unlock()

	adj := e.SizingAdjustment("BTC/USD")
	require.Less(t, adj, 1.0)
	require.GreaterOrEqual(t, adj, 0.5)
}

func TestSizingAdjustmentNeutralWhenNoVolatileForecast(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	e.SetCurrentRegime("BTC/USD", RegimeSideways)

	require.Equal(t, 1.0, e.SizingAdjustment("BTC/USD"))
}

func TestUpdateIndicatorsTakesEffectOnNextEvaluate(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	price := 100.0
	for i := 0; i < 15; i++ {
		e.Evaluate("BTC/USD", mdWithPrice(price))
		price += 0.01
	}
	warnings := e.Evaluate("BTC/USD", mdWithPrice(price+50))
	require.NotEmpty(t, warnings)

	disabled := DefaultConfig().Indicators
	cfg := disabled[IndicatorVolatilitySpike]
	cfg.Enabled = false
	disabled[IndicatorVolatilitySpike] = cfg
	e.UpdateIndicators(disabled)

	e2 := New(zap.NewNop(), DefaultConfig())
	price = 100.0
	for i := 0; i < 15; i++ {
		e2.Evaluate("ETH/USD", mdWithPrice(price))
		price += 0.01
	}
	e2.UpdateIndicators(disabled)
	warnings2 := e2.Evaluate("ETH/USD", mdWithPrice(price+50))
	for _, w := range warnings2 {
		require.NotEqual(t, IndicatorVolatilitySpike, w.Indicator)
	}
}

func TestForecastNoShiftWhenBelowMinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinForecastConfidence = 0.9
	e := New(zap.NewNop(), cfg)
	e.SetCurrentRegime("BTC/USD", RegimeSideways)

	e.mu.Lock()
	e.activeWarnings["BTC/USD"] = []Warning{
		{Indicator: IndicatorOrderBookSkew, Symbol: "BTC/USD", Confidence: 0.3, Direction: DirectionBearish, Timestamp: time.Now()},
	}
	e.mu.Unlock()

	_, prep := e.Forecast("BTC/USD")
	require.Nil(t, prep)
}
