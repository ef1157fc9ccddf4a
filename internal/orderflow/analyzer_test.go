package orderflow

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func book() *market.OrderBook {
	return &market.OrderBook{
		Bids: []market.OrderBookLevel{{Price: d(99), Quantity: d(10)}, {Price: d(98), Quantity: d(5)}},
		Asks: []market.OrderBookLevel{{Price: d(101), Quantity: d(4)}, {Price: d(102), Quantity: d(6)}},
	}
}

func TestClassifyAggressionStrongBuying(t *testing.T) {
	b := book() // mid=100, spread=2, half-spread=1
	agg := ClassifyAggression(d(102.5), true, b)
	require.Equal(t, StrongBuying, agg)
}

func TestClassifyAggressionPassiveBuying(t *testing.T) {
	b := book()
	agg := ClassifyAggression(d(100.5), true, b)
	require.Equal(t, PassiveBuying, agg)
}

func TestClassifyAggressionStrongSelling(t *testing.T) {
	b := book()
	agg := ClassifyAggression(d(97), false, b)
	require.Equal(t, StrongSelling, agg)
}

func TestOnOrderBookImbalance(t *testing.T) {
	a := New(zap.NewNop(), DefaultConfig())
	imb := a.OnOrderBook("BTC/USD", book())
	require.True(t, imb.BidQty.Equal(d(15)))
	require.True(t, imb.AskQty.Equal(d(10)))
	require.InDelta(t, 0.2, imb.Normalized, 1e-9)
}

func TestOnTradeCumulativeDelta(t *testing.T) {
	a := New(zap.NewNop(), DefaultConfig())
	now := time.Now()
	a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now, Price: d(100), Size: d(5), IsBuy: true}, nil)
	a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now.Add(time.Second), Price: d(100), Size: d(2), IsBuy: false}, nil)

	metrics := a.Metrics("BTC/USD")
	require.True(t, metrics.CumulativeDelta.Equal(d(3)))
	require.Equal(t, 2, metrics.TickVolume)
}

func TestOnTradeLargeTradeEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LargeTradeThreshold = 2.0
	a := New(zap.NewNop(), cfg)
	now := time.Now()

	for i := 0; i < 5; i++ {
		a.OnTrade("BTC/USD", market.Tick{
			Symbol: "BTC/USD", Timestamp: now.Add(time.Duration(i) * time.Second),
			Price: d(100), Size: d(1), IsBuy: true,
		}, nil)
	}

	events := a.OnTrade("BTC/USD", market.Tick{
		Symbol: "BTC/USD", Timestamp: now.Add(6 * time.Second),
		Price: d(100), Size: d(10), IsBuy: true,
	}, nil)

	require.Len(t, events, 1)
	require.Equal(t, EventLargeTrade, events[0].Kind)
}

func TestOnTradeLargeTradeRespectsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LargeTradeThreshold = 2.0
	cfg.EventCooldown = time.Minute
	a := New(zap.NewNop(), cfg)
	now := time.Now()

	for i := 0; i < 5; i++ {
		a.OnTrade("BTC/USD", market.Tick{
			Symbol: "BTC/USD", Timestamp: now.Add(time.Duration(i) * time.Second),
			Price: d(100), Size: d(1), IsBuy: true,
		}, nil)
	}

	first := a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now.Add(6 * time.Second), Price: d(100), Size: d(10), IsBuy: true}, nil)
	second := a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now.Add(7 * time.Second), Price: d(100), Size: d(10), IsBuy: true}, nil)

	require.Len(t, first, 1)
	require.Empty(t, second)
}

func TestEvictExpiredTrimsOldTrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaWindows = []time.Duration{time.Second}
	a := New(zap.NewNop(), cfg)
	now := time.Now()

	a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now, Price: d(100), Size: d(1), IsBuy: true}, nil)
	a.OnTrade("BTC/USD", market.Tick{Symbol: "BTC/USD", Timestamp: now.Add(5 * time.Second), Price: d(100), Size: d(1), IsBuy: true}, nil)

	st := a.state("BTC/USD")
	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.trades, 1)
}

func TestCooldownTrackerAllowsAfterWindow(t *testing.T) {
	c := NewCooldownTracker()
	now := time.Now()
	require.True(t, c.Allow("BTC/USD", "vol_spike", now, time.Second))
	c.Record("BTC/USD", "vol_spike", now)
	require.False(t, c.Allow("BTC/USD", "vol_spike", now.Add(500*time.Millisecond), time.Second))
	require.True(t, c.Allow("BTC/USD", "vol_spike", now.Add(2*time.Second), time.Second))
}
