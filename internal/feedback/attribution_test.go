package feedback

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAttributionEngineErrorsWithNoHistory(t *testing.T) {
	engine := NewAttributionEngine(zap.NewNop(), DefaultAttributionConfig())
	_, err := engine.CalculateAttribution(context.Background(), "unknown")
	require.Error(t, err)
}

func TestAttributionEngineComponentsSumToTotal(t *testing.T) {
	engine := NewAttributionEngine(zap.NewNop(), DefaultAttributionConfig())
	ctx := context.Background()

	results := []executor.ExecutionResult{
		{ExecutedQty: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(100), RealizedPnL: decimal.NewFromFloat(5)},
		{ExecutedQty: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(100), RealizedPnL: decimal.NewFromFloat(-2)},
		{ExecutedQty: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(100), RealizedPnL: decimal.NewFromFloat(3)},
	}
	for _, r := range results {
		require.NoError(t, engine.RecordExecution(ctx, "s1", r))
	}

	attr, err := engine.CalculateAttribution(ctx, "s1")
	require.NoError(t, err)

	sum := attr.SignalContribution + attr.ExecutionContribution + attr.RiskContribution + attr.RegimeContribution
	require.InDelta(t, attr.TotalReturn, sum, 1e-9)
	require.Greater(t, attr.TotalReturn, 0.0)
}

func TestAttributionEngineWindowEvicts(t *testing.T) {
	cfg := AttributionConfig{WindowSize: 2}
	engine := NewAttributionEngine(zap.NewNop(), cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.RecordExecution(ctx, "s1", executor.ExecutionResult{
			ExecutedQty:  decimal.NewFromInt(1),
			AveragePrice: decimal.NewFromInt(100),
			RealizedPnL:  decimal.NewFromFloat(1),
		}))
	}

	engine.mu.Lock()
	length := len(engine.records["s1"])
	engine.mu.Unlock()
	require.Equal(t, 2, length)
}
