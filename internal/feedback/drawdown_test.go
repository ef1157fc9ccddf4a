package feedback

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDrawdownTrackerClassifiesBands(t *testing.T) {
	tracker := NewDrawdownTracker(zap.NewNop(), DefaultDrawdownBands())
	ctx := context.Background()

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(100)))
	require.Equal(t, DrawdownNormal, tracker.State("s1"))
	require.Equal(t, 1.0, tracker.RiskModifier("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(88)))
	require.Equal(t, DrawdownWarning, tracker.State("s1"))
	require.Equal(t, 0.75, tracker.RiskModifier("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(82)))
	require.Equal(t, DrawdownCritical, tracker.State("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(60)))
	require.Equal(t, DrawdownHalt, tracker.State("s1"))
	require.Equal(t, 0.25, tracker.RiskModifier("s1"))
}

// TestDrawdownTrackerCascadeScenario follows the equity path 100 -> 105 ->
// 90 -> 85: after the drop to 90 the drawdown from the 105 peak is ~14.3%
// (Warning, 0.75); after 85 it is ~19.0% (Critical, 0.5).
func TestDrawdownTrackerCascadeScenario(t *testing.T) {
	tracker := NewDrawdownTracker(zap.NewNop(), DefaultDrawdownBands())
	ctx := context.Background()

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(100)))
	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(105)))
	require.Equal(t, DrawdownNormal, tracker.State("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(90)))
	require.Equal(t, DrawdownWarning, tracker.State("s1"))
	require.Equal(t, 0.75, tracker.RiskModifier("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(85)))
	require.Equal(t, DrawdownCritical, tracker.State("s1"))
	require.Equal(t, 0.5, tracker.RiskModifier("s1"))
}

func TestDrawdownTrackerPeakIsMonotonic(t *testing.T) {
	tracker := NewDrawdownTracker(zap.NewNop(), DefaultDrawdownBands())
	ctx := context.Background()

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(100)))
	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(90)))
	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(110)))

	require.True(t, tracker.MaxEquity("s1").Equal(decimal.NewFromInt(110)))
	require.Equal(t, DrawdownNormal, tracker.State("s1"))
}

func TestDrawdownTrackerRecoversToNormal(t *testing.T) {
	tracker := NewDrawdownTracker(zap.NewNop(), DefaultDrawdownBands())
	ctx := context.Background()

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(100)))
	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(50)))
	require.Equal(t, DrawdownHalt, tracker.State("s1"))

	require.NoError(t, tracker.UpdateEquity(ctx, "s1", decimal.NewFromInt(100)))
	require.Equal(t, DrawdownNormal, tracker.State("s1"))
}
