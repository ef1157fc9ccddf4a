// Package orderflow implements the OrderFlowAnalyzer: trade aggression
// classification, cumulative delta, order-book imbalance, and
// manipulation-flavored event detection.
package orderflow

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Aggression is the seven-level ordinal scale from StrongSelling to
// StrongBuying.
type Aggression int

const (
	StrongSelling Aggression = iota - 3
	Selling
	PassiveSelling
	Neutral
	PassiveBuying
	Buying
	StrongBuying
)

func (a Aggression) String() string {
	switch a {
	case StrongSelling:
		return "strong_selling"
	case Selling:
		return "selling"
	case PassiveSelling:
		return "passive_selling"
	case Neutral:
		return "neutral"
	case PassiveBuying:
		return "passive_buying"
	case Buying:
		return "buying"
	case StrongBuying:
		return "strong_buying"
	default:
		return "unknown"
	}
}

// EventKind names the manipulation-flavored event taxonomy.
type EventKind string

const (
	EventLargeTrade     EventKind = "large_trade"
	EventOrderBookSweep EventKind = "order_book_sweep"
	EventSpoofing       EventKind = "spoofing"
)

// Event is a detected order-flow event.
type Event struct {
	Kind      EventKind
	Symbol    market.Symbol
	Timestamp time.Time
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Detail    string
}

// Imbalance is the order-book imbalance reading over the top N levels.
type Imbalance struct {
	BidQty     decimal.Decimal
	AskQty     decimal.Decimal
	Ratio      float64 // bid/ask
	Normalized float64 // (ratio-1)/(ratio+1), in (-1, 1)
	Weighted   float64 // same normalization, levels weighted by 1/(1+distance-to-mid)
}

// FlowMetrics is the per-symbol OrderFlowMetrics reading.
type FlowMetrics struct {
	CumulativeDelta     decimal.Decimal
	DeltaByTimeframe    map[time.Duration]decimal.Decimal
	Imbalance           Imbalance
	Aggressiveness      Aggression
	Pressure            float64 // in [-1, 1]
	RecentEvents        []Event
	Volume              decimal.Decimal
	TickVolume          int
	VWAP                decimal.Decimal
	ManipulationSignals []string
}

// Config configures OrderFlowAnalyzer thresholds and windows.
type Config struct {
	DeltaWindows         []time.Duration
	ImbalanceDepth       int
	LargeTradeThreshold  float64 // multiple of exp-smoothed avg trade size
	AvgTradeSizeAlpha    float64
	EventCooldown        time.Duration
	EventDecay           time.Duration
	RecentEventsCapacity int
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		DeltaWindows:         []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour},
		ImbalanceDepth:       10,
		LargeTradeThreshold:  5.0,
		AvgTradeSizeAlpha:    0.05,
		EventCooldown:        10 * time.Second,
		EventDecay:           5 * time.Minute,
		RecentEventsCapacity: 100,
	}
}

func (c Config) maxDeltaWindow() time.Duration {
	max := time.Duration(0)
	for _, w := range c.DeltaWindows {
		if w > max {
			max = w
		}
	}
	return max
}

type tradeRecord struct {
	timestamp time.Time
	price     decimal.Decimal
	qty       decimal.Decimal
	isBuy     bool
}

type symbolState struct {
	mu sync.Mutex

	trades []tradeRecord // bounded by TTL = max delta window

	avgTradeSize decimal.Decimal
	haveAvg      bool

	cumulativeDelta decimal.Decimal
	volume          decimal.Decimal
	tickVolume      int
	vwapNumerator   decimal.Decimal

	lastImbalance Imbalance
	recentEvents  []Event
}

func newSymbolState() *symbolState {
	return &symbolState{}
}

// Analyzer is the OrderFlowAnalyzer.
type Analyzer struct {
	logger   *zap.Logger
	config   Config
	cooldown *CooldownTracker

	mu      sync.RWMutex
	symbols map[market.Symbol]*symbolState
}

// New constructs an Analyzer.
func New(logger *zap.Logger, config Config) *Analyzer {
	return &Analyzer{
		logger:   logger.Named("orderflow-analyzer"),
		config:   config,
		cooldown: NewCooldownTracker(),
		symbols:  make(map[market.Symbol]*symbolState),
	}
}

func (a *Analyzer) state(symbol market.Symbol) *symbolState {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok = a.symbols[symbol]
	if ok {
		return st
	}
	st = newSymbolState()
	a.symbols[symbol] = st
	return st
}

// ClassifyAggression compares a trade's price to the book's mid and best
// bid/ask at trade time.
func ClassifyAggression(price decimal.Decimal, isBuy bool, book *market.OrderBook) Aggression {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		if isBuy {
			return Buying
		}
		return Selling
	}

	bestBid := book.BestBid().Price
	bestAsk := book.BestAsk().Price
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	halfSpread := bestAsk.Sub(bestBid).Div(decimal.NewFromInt(2))

	if isBuy {
		switch {
		case price.GreaterThanOrEqual(bestAsk.Add(halfSpread)):
			return StrongBuying
		case price.GreaterThanOrEqual(bestAsk):
			return Buying
		case price.GreaterThan(mid):
			return PassiveBuying
		default:
			return Neutral
		}
	}

	switch {
	case price.LessThanOrEqual(bestBid.Sub(halfSpread)):
		return StrongSelling
	case price.LessThanOrEqual(bestBid):
		return Selling
	case price.LessThan(mid):
		return PassiveSelling
	default:
		return Neutral
	}
}

// OnTrade records a trade, recomputes cumulative/windowed delta, and
// returns any events the trade triggers.
func (a *Analyzer) OnTrade(symbol market.Symbol, trade market.Tick, book *market.OrderBook) []Event {
	st := a.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := trade.Timestamp
	st.trades = append(st.trades, tradeRecord{timestamp: now, price: trade.Price, qty: trade.Size, isBuy: trade.IsBuy})
	a.evictExpired(st, now)

	sign := decimal.NewFromInt(1)
	if !trade.IsBuy {
		sign = decimal.NewFromInt(-1)
	}
	st.cumulativeDelta = st.cumulativeDelta.Add(sign.Mul(trade.Size))
	st.volume = st.volume.Add(trade.Size)
	st.tickVolume++
	st.vwapNumerator = st.vwapNumerator.Add(trade.Price.Mul(trade.Size))

	if st.haveAvg {
		alpha := decimal.NewFromFloat(a.config.AvgTradeSizeAlpha)
		st.avgTradeSize = st.avgTradeSize.Mul(decimal.NewFromInt(1).Sub(alpha)).Add(trade.Size.Mul(alpha))
	} else {
		st.avgTradeSize = trade.Size
		st.haveAvg = true
	}

	events := a.detectEvents(st, symbol, trade, now)
	for _, ev := range events {
		st.recentEvents = append(st.recentEvents, ev)
	}
	if len(st.recentEvents) > a.config.RecentEventsCapacity {
		st.recentEvents = st.recentEvents[len(st.recentEvents)-a.config.RecentEventsCapacity:]
	}

	_ = book // reserved for OrderBookSweep/Spoofing extension points
	return events
}

func (a *Analyzer) evictExpired(st *symbolState, now time.Time) {
	ttl := a.config.maxDeltaWindow()
	if ttl <= 0 {
		return
	}
	cutoff := now.Add(-ttl)
	i := 0
	for i < len(st.trades) && st.trades[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.trades = st.trades[i:]
	}
}

// detectEvents runs the LargeTrade detector and the OrderBookSweep/Spoofing
// extension points, which currently produce no events.
func (a *Analyzer) detectEvents(st *symbolState, symbol market.Symbol, trade market.Tick, now time.Time) []Event {
	var events []Event

	if st.haveAvg {
		threshold := st.avgTradeSize.Mul(decimal.NewFromFloat(a.config.LargeTradeThreshold))
		if trade.Size.GreaterThanOrEqual(threshold) && threshold.IsPositive() {
			indicator := string(EventLargeTrade)
			if a.cooldown.Allow(string(symbol), indicator, now, a.config.EventCooldown) {
				a.cooldown.Record(string(symbol), indicator, now)
				events = append(events, Event{
					Kind:      EventLargeTrade,
					Symbol:    symbol,
					Timestamp: now,
					Quantity:  trade.Size,
					Price:     trade.Price,
					Detail:    "quantity exceeds smoothed average trade size threshold",
				})
			}
		}
	}

	events = append(events, a.detectOrderBookSweep(symbol, trade, now)...)
	events = append(events, a.detectSpoofing(symbol, trade, now)...)

	return events
}

// detectOrderBookSweep is an extension point; undefined until a concrete
// sweep heuristic is specified, it produces no events.
func (a *Analyzer) detectOrderBookSweep(market.Symbol, market.Tick, time.Time) []Event { return nil }

// detectSpoofing is an extension point; undefined until a concrete spoofing
// heuristic is specified, it produces no events.
func (a *Analyzer) detectSpoofing(market.Symbol, market.Tick, time.Time) []Event { return nil }

// OnOrderBook computes top-N raw, normalized, and mid-distance-weighted
// imbalance.
func (a *Analyzer) OnOrderBook(symbol market.Symbol, book *market.OrderBook) Imbalance {
	st := a.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	depth := a.config.ImbalanceDepth
	bidQty := market.SumDepth(book.Bids, depth)
	askQty := market.SumDepth(book.Asks, depth)

	ratio := 1.0
	if !askQty.IsZero() {
		r, _ := bidQty.Div(askQty).Float64()
		ratio = r
	}
	normalized := 0.0
	if ratio+1 != 0 {
		normalized = (ratio - 1) / (ratio + 1)
	}

	weighted := weightedImbalance(book, depth)

	imb := Imbalance{BidQty: bidQty, AskQty: askQty, Ratio: ratio, Normalized: normalized, Weighted: weighted}
	st.lastImbalance = imb
	return imb
}

func weightedImbalance(book *market.OrderBook, depth int) float64 {
	mid := book.BestBid().Price.Add(book.BestAsk().Price).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return 0
	}

	weightedBid := 0.0
	for i, lvl := range book.Bids {
		if i >= depth {
			break
		}
		weightedBid += levelWeight(lvl, mid)
	}
	weightedAsk := 0.0
	for i, lvl := range book.Asks {
		if i >= depth {
			break
		}
		weightedAsk += levelWeight(lvl, mid)
	}

	ratio := 1.0
	if weightedAsk != 0 {
		ratio = weightedBid / weightedAsk
	}
	if ratio+1 == 0 {
		return 0
	}
	return (ratio - 1) / (ratio + 1)
}

func levelWeight(lvl market.OrderBookLevel, mid decimal.Decimal) float64 {
	qty, _ := lvl.Quantity.Float64()
	distance := lvl.Price.Sub(mid).Abs()
	distF, _ := distance.Div(mid).Float64()
	return qty / (1.0 + distF)
}

// Metrics returns the current FlowMetrics reading for a symbol.
func (a *Analyzer) Metrics(symbol market.Symbol) FlowMetrics {
	st := a.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	deltaByTimeframe := make(map[time.Duration]decimal.Decimal, len(a.config.DeltaWindows))
	for _, window := range a.config.DeltaWindows {
		deltaByTimeframe[window] = deltaOverWindow(st.trades, window)
	}

	vwap := decimal.Zero
	if !st.volume.IsZero() {
		vwap = st.vwapNumerator.Div(st.volume)
	}

	aggressiveness := Neutral
	pressure := 0.0
	if len(st.trades) > 0 {
		last := st.trades[len(st.trades)-1]
		pressure = pressureFromRecent(st.trades)
		aggressiveness = aggressionFromSign(last.isBuy, pressure)
	}

	events := make([]Event, len(st.recentEvents))
	copy(events, st.recentEvents)

	return FlowMetrics{
		CumulativeDelta:  st.cumulativeDelta,
		DeltaByTimeframe: deltaByTimeframe,
		Imbalance:        st.lastImbalance,
		Aggressiveness:   aggressiveness,
		Pressure:         pressure,
		RecentEvents:     events,
		Volume:           st.volume,
		TickVolume:       st.tickVolume,
		VWAP:             vwap,
	}
}

func deltaOverWindow(trades []tradeRecord, window time.Duration) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	cutoff := trades[len(trades)-1].timestamp.Add(-window)
	sum := decimal.Zero
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].timestamp.Before(cutoff) {
			break
		}
		if trades[i].isBuy {
			sum = sum.Add(trades[i].qty)
		} else {
			sum = sum.Sub(trades[i].qty)
		}
	}
	return sum
}

// pressureFromRecent computes a bounded [-1, 1] buy/sell pressure reading
// from the ratio of buy to sell volume in the retained trade window.
func pressureFromRecent(trades []tradeRecord) float64 {
	buyVol := 0.0
	sellVol := 0.0
	for _, tr := range trades {
		q, _ := tr.qty.Float64()
		if tr.isBuy {
			buyVol += q
		} else {
			sellVol += q
		}
	}
	total := buyVol + sellVol
	if total == 0 {
		return 0
	}
	return (buyVol - sellVol) / total
}

func aggressionFromSign(lastIsBuy bool, pressure float64) Aggression {
	switch {
	case pressure >= 0.6:
		return StrongBuying
	case pressure >= 0.2:
		return Buying
	case pressure > 0:
		return PassiveBuying
	case pressure <= -0.6:
		return StrongSelling
	case pressure <= -0.2:
		return Selling
	case pressure < 0:
		return PassiveSelling
	default:
		if lastIsBuy {
			return PassiveBuying
		}
		return PassiveSelling
	}
}
