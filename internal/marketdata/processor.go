// Package marketdata implements the MarketDataProcessor: per-symbol tick
// ingestion, rolling feature calculation, and anomaly detection.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInsufficientData is returned by CalculateFeatures when the symbol's
// history is shorter than the longest required lookback window.
var ErrInsufficientData = errors.New("marketdata: insufficient history")

// Config tunes ring sizes and recompute cadence.
type Config struct {
	RingCapacity             int           `mapstructure:"ringCapacity"`
	FeatureCalcInterval      time.Duration `mapstructure:"featureCalcInterval"`
	AnomalyCalcInterval      time.Duration `mapstructure:"anomalyCalcInterval"`
	PriceSpikeSigma          float64       `mapstructure:"priceSpikeSigma"`
	VolumeSpikeMultiple      float64       `mapstructure:"volumeSpikeMultiple"`
	SpreadWideningMultiple   float64       `mapstructure:"spreadWideningMultiple"`
	RSIPeriod                int           `mapstructure:"rsiPeriod"`
	BollingerPeriod          int           `mapstructure:"bollingerPeriod"`
	ATRPeriod                int           `mapstructure:"atrPeriod"`
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		RingCapacity:           1024,
		FeatureCalcInterval:    time.Second,
		AnomalyCalcInterval:    time.Second,
		PriceSpikeSigma:        3.0,
		VolumeSpikeMultiple:    3.0,
		SpreadWideningMultiple: 2.5,
		RSIPeriod:              14,
		BollingerPeriod:        20,
		ATRPeriod:              14,
	}
}

// AnomalyKind enumerates the anomaly types the processor detects.
type AnomalyKind string

const (
	AnomalyPriceSpike        AnomalyKind = "price_spike"
	AnomalyVolumeSpike       AnomalyKind = "volume_spike"
	AnomalySpreadWidening    AnomalyKind = "spread_widening"
	AnomalyLiquidityDrop     AnomalyKind = "liquidity_drop"
	AnomalyVolatilityExplode AnomalyKind = "volatility_explosion"
)

// Anomaly is a detected condition on a symbol at a point in time.
type Anomaly struct {
	Kind      AnomalyKind
	Symbol    market.Symbol
	Value     float64
	Threshold float64
	Timestamp time.Time
}

// Features holds the derived indicator set for a symbol.
type Features struct {
	Returns         map[market.Timeframe]float64
	RSI14           float64
	BollingerWidth  float64
	MACD            float64
	MACDSignal      float64
	MACDHistogram   float64
	ATR             float64
	VolumeRatio     float64
	OBV             float64
	Spread          decimal.Decimal
	CalculatedAt    time.Time
}

type symbolState struct {
	mu sync.Mutex

	ring      []market.Tick
	head      int
	size      int
	cap       int
	seen      map[string]struct{}
	seenOrder []string

	candles map[market.Timeframe][]market.Candle

	lastTicker market.Ticker
	lastBook   *market.OrderBook

	lastFeatureCalc time.Time
	lastAnomalyCalc time.Time
	lastFeatures    Features

	avgTradeSize    float64
	avgVolume       float64
	volSigma        float64
	avgSpread       float64
	prevATRValue    float64
	obv             float64
	lastTimestamp   time.Time
}

func newSymbolState(cap int) *symbolState {
	return &symbolState{
		ring:    make([]market.Tick, cap),
		cap:     cap,
		seen:    make(map[string]struct{}, cap),
		candles: make(map[market.Timeframe][]market.Candle),
	}
}

func (s *symbolState) dedupKey(t market.Tick) string {
	return fmt.Sprintf("%s|%d|%s", t.Symbol, t.Timestamp.UnixNano(), t.Price.String())
}

// push appends a tick to the bounded ring, evicting the oldest on overflow.
func (s *symbolState) push(t market.Tick) {
	idx := (s.head + s.size) % s.cap
	if s.size == s.cap {
		idx = s.head
		s.head = (s.head + 1) % s.cap
	} else {
		s.size++
	}
	s.ring[idx] = t
}

// ordered returns ticks oldest-first.
func (s *symbolState) ordered() []market.Tick {
	out := make([]market.Tick, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%s.cap]
	}
	return out
}

// Processor ingests ticks and maintains per-symbol derived state.
type Processor struct {
	logger *zap.Logger
	config Config

	mu      sync.RWMutex
	symbols map[market.Symbol]*symbolState
}

// New creates a MarketDataProcessor.
func New(logger *zap.Logger, config Config) *Processor {
	return &Processor{
		logger:  logger.Named("marketdata"),
		config:  config,
		symbols: make(map[market.Symbol]*symbolState),
	}
}

func (p *Processor) state(symbol market.Symbol) *symbolState {
	p.mu.RLock()
	st, ok := p.symbols[symbol]
	p.mu.RUnlock()
	if ok {
		return st
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok = p.symbols[symbol]; ok {
		return st
	}
	st = newSymbolState(p.config.RingCapacity)
	p.symbols[symbol] = st
	return st
}

// ProcessTick ingests a tick. It is idempotent w.r.t. duplicate
// (symbol, timestamp, price) triples and rejects out-of-order ticks to
// preserve per-symbol timestamp monotonicity.
func (p *Processor) ProcessTick(t market.Tick) error {
	st := p.state(t.Symbol)

	st.mu.Lock()
	defer st.mu.Unlock()

	key := st.dedupKey(t)
	if _, dup := st.seen[key]; dup {
		return nil
	}
	if !st.lastTimestamp.IsZero() && t.Timestamp.Before(st.lastTimestamp) {
		return fmt.Errorf("marketdata: tick for %s out of order: %s before %s",
			t.Symbol, t.Timestamp, st.lastTimestamp)
	}

	st.seen[key] = struct{}{}
	st.seenOrder = append(st.seenOrder, key)
	if len(st.seenOrder) > st.cap {
		delete(st.seen, st.seenOrder[0])
		st.seenOrder = st.seenOrder[1:]
	}

	st.push(t)
	st.lastTimestamp = t.Timestamp

	size, _ := t.Size.Float64()
	if st.avgTradeSize == 0 {
		st.avgTradeSize = size
	} else {
		st.avgTradeSize = 0.05*size + 0.95*st.avgTradeSize
	}

	return nil
}

// UpdateTicker records the latest quote for a symbol.
func (p *Processor) UpdateTicker(symbol market.Symbol, ticker market.Ticker) error {
	if err := ticker.Validate(); err != nil {
		return err
	}
	st := p.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastTicker = ticker
	return nil
}

// UpdateOrderBook records the latest book snapshot for a symbol.
func (p *Processor) UpdateOrderBook(book *market.OrderBook) error {
	if err := book.Validate(); err != nil {
		return err
	}
	st := p.state(book.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastBook = book
	return nil
}

// UpdateCandle appends a finished candle for a timeframe.
func (p *Processor) UpdateCandle(symbol market.Symbol, tf market.Timeframe, c market.Candle) {
	st := p.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.candles[tf] = append(st.candles[tf], c)
	const maxCandles = 500
	if len(st.candles[tf]) > maxCandles {
		st.candles[tf] = st.candles[tf][len(st.candles[tf])-maxCandles:]
	}
}

// requiredHistory is the longest lookback any feature needs.
func (p *Processor) requiredHistory() int {
	longest := p.config.RSIPeriod
	if p.config.BollingerPeriod > longest {
		longest = p.config.BollingerPeriod
	}
	if p.config.ATRPeriod > longest {
		longest = p.config.ATRPeriod
	}
	return longest + 1
}

// CalculateFeatures recomputes the derived indicator set for a symbol if the
// feature-calculation interval has elapsed; otherwise it returns the cached
// value. Fails with ErrInsufficientData if history is too short.
func (p *Processor) CalculateFeatures(symbol market.Symbol) (Features, error) {
	st := p.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.size < p.requiredHistory() {
		return Features{}, fmt.Errorf("%w: have %d ticks, need %d", ErrInsufficientData, st.size, p.requiredHistory())
	}

	now := time.Now()
	if !st.lastFeatureCalc.IsZero() && now.Sub(st.lastFeatureCalc) < p.config.FeatureCalcInterval {
		return st.lastFeatures, nil
	}
	st.lastFeatureCalc = now

	ticks := st.ordered()
	closes := make([]decimal.Decimal, 0, len(ticks))
	for _, t := range ticks {
		closes = append(closes, t.Price)
	}

	f := Features{
		Returns:      p.calculateReturns(closes),
		RSI14:        calculateRSI(closes, p.config.RSIPeriod),
		ATR:          calculateATRFromTicks(closes, p.config.ATRPeriod),
		OBV:          p.calculateOBV(ticks),
		CalculatedAt: now,
	}
	f.BollingerWidth = calculateBollingerWidth(closes, p.config.BollingerPeriod)
	macd, signal, hist := calculateMACD(closes)
	f.MACD, f.MACDSignal, f.MACDHistogram = macd, signal, hist
	f.VolumeRatio = p.calculateVolumeRatio(ticks)
	f.Spread = st.lastTicker.Spread()

	st.lastFeatures = f
	return f, nil
}

func (p *Processor) calculateReturns(closes []decimal.Decimal) map[market.Timeframe]float64 {
	out := make(map[market.Timeframe]float64)
	if len(closes) < 2 {
		return out
	}
	last := closes[len(closes)-1]
	windows := map[market.Timeframe]int{
		market.Timeframe1m: 1, market.Timeframe5m: 5, market.Timeframe15m: 15,
		market.Timeframe1h: 60, market.Timeframe4h: 240, market.Timeframe1d: 1440,
	}
	for tf, back := range windows {
		idx := len(closes) - 1 - back
		if idx < 0 {
			continue
		}
		base := closes[idx]
		if base.IsZero() {
			continue
		}
		out[tf] = last.Sub(base).Div(base).InexactFloat64()
	}
	return out
}

func (p *Processor) calculateOBV(ticks []market.Tick) float64 {
	obv := 0.0
	for i := 1; i < len(ticks); i++ {
		size, _ := ticks[i].Size.Float64()
		if ticks[i].Price.GreaterThan(ticks[i-1].Price) {
			obv += size
		} else if ticks[i].Price.LessThan(ticks[i-1].Price) {
			obv -= size
		}
	}
	return obv
}

func (p *Processor) calculateVolumeRatio(ticks []market.Tick) float64 {
	if len(ticks) < 2 {
		return 1.0
	}
	half := len(ticks) / 2
	var recent, prior float64
	for i, t := range ticks {
		size, _ := t.Size.Float64()
		if i >= half {
			recent += size
		} else {
			prior += size
		}
	}
	if prior == 0 {
		return 1.0
	}
	return recent / prior
}

// DetectAnomalies scans for the configured anomaly kinds, gated by the
// anomaly-calculation interval.
func (p *Processor) DetectAnomalies(symbol market.Symbol) []Anomaly {
	st := p.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if !st.lastAnomalyCalc.IsZero() && now.Sub(st.lastAnomalyCalc) < p.config.AnomalyCalcInterval {
		return nil
	}
	st.lastAnomalyCalc = now

	if st.size < 3 {
		return nil
	}

	ticks := st.ordered()
	var anomalies []Anomaly

	prices := make([]float64, len(ticks))
	volumes := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i], _ = t.Price.Float64()
		volumes[i], _ = t.Size.Float64()
	}

	priceMean, priceSigma := meanStdDev(prices)
	if priceSigma > 0 {
		last := prices[len(prices)-1]
		delta := math.Abs(last - priceMean)
		z := delta / priceSigma
		if z > p.config.PriceSpikeSigma {
			anomalies = append(anomalies, Anomaly{
				Kind: AnomalyPriceSpike, Symbol: symbol, Value: z,
				Threshold: p.config.PriceSpikeSigma, Timestamp: now,
			})
		}
	}

	volMean, _ := meanStdDev(volumes)
	last := volumes[len(volumes)-1]
	if volMean > 0 && last > volMean*p.config.VolumeSpikeMultiple {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyVolumeSpike, Symbol: symbol, Value: last / volMean,
			Threshold: p.config.VolumeSpikeMultiple, Timestamp: now,
		})
	}

	spread, _ := st.lastTicker.Spread().Float64()
	if st.avgSpread == 0 {
		st.avgSpread = spread
	} else {
		if spread > st.avgSpread*p.config.SpreadWideningMultiple && st.avgSpread > 0 {
			anomalies = append(anomalies, Anomaly{
				Kind: AnomalySpreadWidening, Symbol: symbol, Value: spread,
				Threshold: st.avgSpread * p.config.SpreadWideningMultiple, Timestamp: now,
			})
		}
		st.avgSpread = 0.05*spread + 0.95*st.avgSpread
	}

	if st.lastBook != nil {
		depth := market.SumDepth(st.lastBook.Bids, 5).Add(market.SumDepth(st.lastBook.Asks, 5))
		d, _ := depth.Float64()
		if d > 0 && st.avgVolume > 0 && d < st.avgVolume*0.2 {
			anomalies = append(anomalies, Anomaly{
				Kind: AnomalyLiquidityDrop, Symbol: symbol, Value: d,
				Threshold: st.avgVolume * 0.2, Timestamp: now,
			})
		}
		if st.avgVolume == 0 {
			st.avgVolume = d
		} else {
			st.avgVolume = 0.05*d + 0.95*st.avgVolume
		}
	}

	_, sigma := meanStdDev(returnsOf(prices))
	if st.volSigma > 0 && sigma > st.volSigma*2 {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyVolatilityExplode, Symbol: symbol, Value: sigma,
			Threshold: st.volSigma * 2, Timestamp: now,
		})
	}
	if sigma > 0 {
		if st.volSigma == 0 {
			st.volSigma = sigma
		} else {
			st.volSigma = 0.05*sigma + 0.95*st.volSigma
		}
	}

	return anomalies
}

// Snapshot builds the immutable MarketData value handed to strategies.
func (p *Processor) Snapshot(symbol market.Symbol) (*market.Data, error) {
	st := p.state(symbol)
	st.mu.Lock()
	ticker := st.lastTicker
	var book *market.OrderBook
	if st.lastBook != nil {
		cp := *st.lastBook
		book = &cp
	}
	candles := make(map[market.Timeframe][]market.Candle, len(st.candles))
	for tf, cs := range st.candles {
		candles[tf] = append([]market.Candle(nil), cs...)
	}
	st.mu.Unlock()

	d := &market.Data{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Ticker:    ticker,
		OrderBook: book,
		Candles:   candles,
		Indicators: map[string]map[string]float64{},
	}

	if f, err := p.CalculateFeatures(symbol); err == nil {
		cat := map[string]float64{
			"rsi14":           f.RSI14,
			"bollinger_width": f.BollingerWidth,
			"macd":            f.MACD,
			"macd_signal":     f.MACDSignal,
			"macd_histogram":  f.MACDHistogram,
			"atr":             f.ATR,
			"volume_ratio":    f.VolumeRatio,
			"obv":             f.OBV,
		}
		d.Indicators["derived"] = cat
	} else if !errors.Is(err, ErrInsufficientData) {
		p.logger.Warn("feature calculation failed", zap.String("symbol", string(symbol)), zap.Error(err))
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func meanStdDev(xs []float64) (mean, sigma float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	sigma = math.Sqrt(ss / float64(len(xs)-1))
	return mean, sigma
}

func returnsOf(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}
