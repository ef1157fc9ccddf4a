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

func mdWithCandlesVolume(closes []float64, volumes []float64) *market.Data {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = market.Candle{
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			Volume:    decimal.NewFromFloat(volumes[i]),
		}
	}
	return &market.Data{
		Symbol:  "BTC/USD",
		Candles: map[market.Timeframe][]market.Candle{market.Timeframe1m: out},
	}
}

func TestBreakoutEntersLongOnConfirmedUpsideBreak(t *testing.T) {
	s := NewBreakoutStrategy(zap.NewNop())
	closes := make([]float64, 22)
	volumes := make([]float64, 22)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}
	closes[21] = 120
	volumes[21] = 500

	sig, err := s.GenerateSignal(context.Background(), mdWithCandlesVolume(closes, volumes))
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, signal.DirectionLong, sig.Direction)
}

func TestBreakoutNoSignalWithoutVolumeConfirmation(t *testing.T) {
	s := NewBreakoutStrategy(zap.NewNop())
	closes := make([]float64, 22)
	volumes := make([]float64, 22)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}
	closes[21] = 120
	volumes[21] = 101

	sig, err := s.GenerateSignal(context.Background(), mdWithCandlesVolume(closes, volumes))
	require.NoError(t, err)
	require.Nil(t, sig)
}
