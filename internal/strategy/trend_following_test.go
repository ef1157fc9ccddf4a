package strategy

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrendFollowingEntersLongOnGoldenCross(t *testing.T) {
	s := NewTrendFollowingStrategy(zap.NewNop())
	closes := make([]float64, 40)
	for i := 0; i < 39; i++ {
		closes[i] = 100
	}
	closes[39] = 150

	sig, err := s.GenerateSignal(context.Background(), mdWithCandles(closes))
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, signal.DirectionLong, sig.Direction)
}

func TestTrendFollowingNoSignalWhenFlat(t *testing.T) {
	s := NewTrendFollowingStrategy(zap.NewNop())
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}

	sig, err := s.GenerateSignal(context.Background(), mdWithCandles(closes))
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestTrendFollowingInsufficientHistory(t *testing.T) {
	s := NewTrendFollowingStrategy(zap.NewNop())
	sig, err := s.GenerateSignal(context.Background(), mdWithCandles([]float64{100, 101, 102}))
	require.NoError(t, err)
	require.Nil(t, sig)
}
