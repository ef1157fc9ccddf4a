// Package market defines the shared market-data model passed through the
// strategy execution pipeline: ticks, order books, candles, and the
// immutable per-cycle snapshot handed to strategies.
package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is an opaque interned instrument identifier, e.g. "BTC/USD".
type Symbol string

// Timeframe names a candle aggregation window.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Tick is a single trade print.
type Tick struct {
	Symbol    Symbol
	Timestamp time.Time
	Price     decimal.Decimal
	Size      decimal.Decimal
	IsBuy     bool
	TradeID   string
}

// Ticker carries last-quote/trade state for a symbol.
type Ticker struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Volume decimal.Decimal
}

// Validate enforces bid <= ask.
func (t Ticker) Validate() error {
	if !t.Bid.IsZero() && !t.Ask.IsZero() && t.Bid.GreaterThan(t.Ask) {
		return fmt.Errorf("ticker invariant violated: bid %s > ask %s", t.Bid, t.Ask)
	}
	return nil
}

// Mid returns the bid/ask midpoint, falling back to Last if no quote.
func (t Ticker) Mid() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return t.Last
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask-bid.
func (t Ticker) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// OrderBookLevel is one price level in a book side.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Count    int // optional order count at this level; 0 if unknown
}

// OrderBook holds sorted bids (desc) and asks (asc).
type OrderBook struct {
	Symbol    Symbol
	Timestamp time.Time
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
}

// Validate enforces best_bid < best_ask when both sides are present.
func (ob *OrderBook) Validate() error {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return nil
	}
	if !ob.Bids[0].Price.LessThan(ob.Asks[0].Price) {
		return fmt.Errorf("order book invariant violated: best_bid %s not < best_ask %s",
			ob.Bids[0].Price, ob.Asks[0].Price)
	}
	return nil
}

// BestBid returns the best bid level, or zero value if the side is empty.
func (ob *OrderBook) BestBid() OrderBookLevel {
	if len(ob.Bids) == 0 {
		return OrderBookLevel{}
	}
	return ob.Bids[0]
}

// BestAsk returns the best ask level, or zero value if the side is empty.
func (ob *OrderBook) BestAsk() OrderBookLevel {
	if len(ob.Asks) == 0 {
		return OrderBookLevel{}
	}
	return ob.Asks[0]
}

// SumDepth sums quantity across up to n levels of a side.
func SumDepth(levels []OrderBookLevel, n int) decimal.Decimal {
	sum := decimal.Zero
	for i, lvl := range levels {
		if i >= n {
			break
		}
		sum = sum.Add(lvl.Quantity)
	}
	return sum
}

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Data is the immutable snapshot handed to a strategy for one evaluation.
// Once constructed it must not be mutated by any consumer.
type Data struct {
	Symbol     Symbol
	Timestamp  time.Time
	Ticker     Ticker
	OrderBook  *OrderBook // optional
	Candles    map[Timeframe][]Candle
	Indicators map[string]map[string]float64 // category -> name -> value
}

// Validate checks the cross-field invariants Data must satisfy.
func (d *Data) Validate() error {
	if err := d.Ticker.Validate(); err != nil {
		return err
	}
	if d.OrderBook != nil {
		if err := d.OrderBook.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Indicator fetches a named indicator value from a category, returning ok=false
// if either the category or the name is absent.
func (d *Data) Indicator(category, name string) (float64, bool) {
	cat, ok := d.Indicators[category]
	if !ok {
		return 0, false
	}
	v, ok := cat[name]
	return v, ok
}
