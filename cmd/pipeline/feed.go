package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/orderflow"
	"github.com/atlas-desktop/trading-backend/internal/regime"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// syntheticSymbol seeds one symbol's random walk: a starting price and the
// running state carried between ticks.
type syntheticSymbol struct {
	symbol market.Symbol
	price  float64
}

// feedGenerator drives a random-walk tick/quote/book feed into the
// marketdata, orderflow, and regime-warning components on a fixed
// interval, standing in for a concrete venue adapter.
type feedGenerator struct {
	logger   *zap.Logger
	rng      *rand.Rand
	interval time.Duration
	symbols  []*syntheticSymbol

	processor *marketdata.Processor
	flow      *orderflow.Analyzer
	regime    *regime.Engine
	durable   store.Store
}

func newFeedGenerator(
	logger *zap.Logger,
	symbols []market.Symbol,
	interval time.Duration,
	processor *marketdata.Processor,
	flow *orderflow.Analyzer,
	regimeEngine *regime.Engine,
	durable store.Store,
) *feedGenerator {
	seeded := make([]*syntheticSymbol, 0, len(symbols))
	for _, s := range symbols {
		seeded = append(seeded, &syntheticSymbol{symbol: s, price: startingPrice(s)})
	}
	return &feedGenerator{
		logger:    logger.Named("synthetic-feed"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		interval:  interval,
		symbols:   seeded,
		processor: processor,
		flow:      flow,
		regime:    regimeEngine,
		durable:   durable,
	}
}

// startingPrice picks a plausible starting price per symbol so the random
// walk produces realistic-looking ticks from the first tick onward.
func startingPrice(symbol market.Symbol) float64 {
	switch symbol {
	case "BTC/USD":
		return 60000.0
	case "ETH/USD":
		return 3000.0
	case "SOL/USD":
		return 150.0
	default:
		return 100.0
	}
}

// Run drives the feed until ctx is cancelled, pushing one batch of
// synthetic market events per symbol every tick.
func (f *feedGenerator) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, sym := range f.symbols {
				f.emit(sym, now)
			}
		}
	}
}

// emit advances one symbol's random walk and pushes the resulting tick,
// ticker, and order book into every ingestion surface that depends on it.
func (f *feedGenerator) emit(sym *syntheticSymbol, now time.Time) {
	changePct := (f.rng.Float64() - 0.5) * 0.004 // +/- 0.2% per tick
	sym.price *= 1 + changePct
	if sym.price <= 0 {
		sym.price = startingPrice(sym.symbol)
	}

	price := decimal.NewFromFloat(sym.price)
	spread := price.Mul(decimal.NewFromFloat(0.0005))
	bid := price.Sub(spread)
	ask := price.Add(spread)
	isBuy := changePct >= 0
	size := decimal.NewFromFloat(0.01 + f.rng.Float64()*2)

	tick := market.Tick{
		Symbol:    sym.symbol,
		Timestamp: now,
		Price:     price,
		Size:      size,
		IsBuy:     isBuy,
		TradeID:   now.Format(time.RFC3339Nano),
	}
	tickerQuote := market.Ticker{
		Bid:    bid,
		Ask:    ask,
		Last:   price,
		High:   price.Mul(decimal.NewFromFloat(1.002)),
		Low:    price.Mul(decimal.NewFromFloat(0.998)),
		Volume: decimal.NewFromFloat(1000 + f.rng.Float64()*5000),
	}
	book := f.syntheticBook(sym.symbol, bid, ask)

	if err := f.processor.ProcessTick(tick); err != nil {
		f.logger.Debug("dropped out-of-order tick", zap.String("symbol", string(sym.symbol)), zap.Error(err))
		return
	}
	if err := f.processor.UpdateTicker(sym.symbol, tickerQuote); err != nil {
		f.logger.Warn("invalid ticker", zap.String("symbol", string(sym.symbol)), zap.Error(err))
		return
	}
	if err := f.processor.UpdateOrderBook(book); err != nil {
		f.logger.Warn("invalid order book", zap.String("symbol", string(sym.symbol)), zap.Error(err))
		return
	}

	f.flow.OnTrade(sym.symbol, tick, book)
	f.flow.OnOrderBook(sym.symbol, book)

	if snap, err := f.processor.Snapshot(sym.symbol); err == nil {
		f.regime.Evaluate(sym.symbol, snap)
	}

	f.publishDurable(sym.symbol, tick, tickerQuote)
}

// publishDurable mirrors the latest tick and ticker into the durable store:
// a Set so a restarted process (or a separate dashboard) can read the last
// known quote, and a Publish so other subscribers can fan out off the same
// feed without touching the hot execution path.
func (f *feedGenerator) publishDurable(symbol market.Symbol, tick market.Tick, quote market.Ticker) {
	if f.durable == nil {
		return
	}
	ctx := context.Background()
	if err := store.Set(ctx, f.durable, "ticker:"+string(symbol), quote, time.Minute); err != nil {
		f.logger.Debug("failed to persist ticker", zap.String("symbol", string(symbol)), zap.Error(err))
	}
	if err := store.Publish(ctx, f.durable, "ticks."+string(symbol), tick); err != nil {
		f.logger.Debug("failed to publish tick", zap.String("symbol", string(symbol)), zap.Error(err))
	}
}

// syntheticBook builds a plausible ten-level book straddling bid/ask.
func (f *feedGenerator) syntheticBook(symbol market.Symbol, bid, ask decimal.Decimal) *market.OrderBook {
	const levels = 10
	step := bid.Mul(decimal.NewFromFloat(0.0002))

	bids := make([]market.OrderBookLevel, levels)
	asks := make([]market.OrderBookLevel, levels)
	for i := 0; i < levels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		bids[i] = market.OrderBookLevel{
			Price:    bid.Sub(offset),
			Quantity: decimal.NewFromFloat(0.1 + f.rng.Float64()*5),
		}
		asks[i] = market.OrderBookLevel{
			Price:    ask.Add(offset),
			Quantity: decimal.NewFromFloat(0.1 + f.rng.Float64()*5),
		}
	}
	return &market.OrderBook{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Bids:      bids,
		Asks:      asks,
	}
}
