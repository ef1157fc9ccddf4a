package marketdata

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestProcessTickIdempotent(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	ts := time.Now()
	tick := market.Tick{Symbol: "BTC/USD", Timestamp: ts, Price: d(100), Size: d(1)}

	require.NoError(t, p.ProcessTick(tick))
	require.NoError(t, p.ProcessTick(tick)) // duplicate, must be a no-op

	st := p.state("BTC/USD")
	require.Equal(t, 1, st.size)
}

func TestProcessTickRejectsOutOfOrder(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	now := time.Now()
	require.NoError(t, p.ProcessTick(market.Tick{Symbol: "BTC/USD", Timestamp: now, Price: d(100), Size: d(1)}))
	err := p.ProcessTick(market.Tick{Symbol: "BTC/USD", Timestamp: now.Add(-time.Second), Price: d(101), Size: d(1)})
	require.Error(t, err)
}

func TestCalculateFeaturesInsufficientData(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	require.NoError(t, p.ProcessTick(market.Tick{Symbol: "BTC/USD", Timestamp: time.Now(), Price: d(100), Size: d(1)}))
	_, err := p.CalculateFeatures("BTC/USD")
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculateFeaturesOnceWarm(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	base := time.Now()
	for i := 0; i < 30; i++ {
		require.NoError(t, p.ProcessTick(market.Tick{
			Symbol:    "BTC/USD",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Price:     d(100 + float64(i)*0.1),
			Size:      d(1),
		}))
	}
	f, err := p.CalculateFeatures("BTC/USD")
	require.NoError(t, err)
	require.GreaterOrEqual(t, f.RSI14, 0.0)
	require.LessOrEqual(t, f.RSI14, 100.0)
}

func TestSnapshotValidatesTicker(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	require.NoError(t, p.UpdateTicker("BTC/USD", market.Ticker{Bid: d(99), Ask: d(101), Last: d(100)}))
	snap, err := p.Snapshot("BTC/USD")
	require.NoError(t, err)
	require.Equal(t, market.Symbol("BTC/USD"), snap.Symbol)
}

func TestUpdateTickerRejectsCrossedBook(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	err := p.UpdateTicker("BTC/USD", market.Ticker{Bid: d(101), Ask: d(99)})
	require.Error(t, err)
}

func TestDetectAnomaliesPriceSpike(t *testing.T) {
	p := New(zap.NewNop(), DefaultConfig())
	base := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, p.ProcessTick(market.Tick{
			Symbol: "BTC/USD", Timestamp: base.Add(time.Duration(i) * time.Second),
			Price: d(100), Size: d(1),
		}))
	}
	// Force the next interval check to run.
	st := p.state("BTC/USD")
	st.lastAnomalyCalc = time.Time{}
	require.NoError(t, p.ProcessTick(market.Tick{
		Symbol: "BTC/USD", Timestamp: base.Add(21 * time.Second), Price: d(500), Size: d(1),
	}))
	anomalies := p.DetectAnomalies("BTC/USD")
	require.NotEmpty(t, anomalies)
}
