package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func candleSeries(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = market.Candle{
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

func mdWithCandles(closes []float64) *market.Data {
	return &market.Data{
		Symbol: "BTC/USD",
		Candles: map[market.Timeframe][]market.Candle{
			market.Timeframe1m: candleSeries(closes),
		},
	}
}

func TestMomentumStrategyEntersLongOnBreakout(t *testing.T) {
	s := NewMomentumStrategy(zap.NewNop())
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 110

	sig, err := s.GenerateSignal(context.Background(), mdWithCandles(closes))
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, signal.DirectionLong, sig.Direction)
}

func TestMomentumStrategyNoSignalWithinThreshold(t *testing.T) {
	s := NewMomentumStrategy(zap.NewNop())
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 100.5

	sig, err := s.GenerateSignal(context.Background(), mdWithCandles(closes))
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestMomentumStrategyInsufficientHistory(t *testing.T) {
	s := NewMomentumStrategy(zap.NewNop())
	sig, err := s.GenerateSignal(context.Background(), mdWithCandles([]float64{100, 101}))
	require.NoError(t, err)
	require.Nil(t, sig)
}
