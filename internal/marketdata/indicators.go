package marketdata

import (
	"github.com/atlas-desktop/trading-backend/pkg/utils"
	"github.com/shopspring/decimal"
)

// calculateRSI computes the Relative Strength Index over period, Wilder-style.
func calculateRSI(closes []decimal.Decimal, period int) float64 {
	if len(closes) <= period {
		return 50.0
	}

	gains := decimal.Zero
	losses := decimal.Zero
	start := len(closes) - period - 1
	for i := start + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			gains = gains.Add(delta)
		} else {
			losses = losses.Add(delta.Abs())
		}
	}

	if losses.IsZero() {
		return 100.0
	}
	avgGain := gains.Div(decimal.NewFromInt(int64(period)))
	avgLoss := losses.Div(decimal.NewFromInt(int64(period)))
	if avgLoss.IsZero() {
		return 100.0
	}
	rs := avgGain.Div(avgLoss)
	rsi := decimal.NewFromInt(100).Sub(decimal.NewFromInt(100).Div(decimal.NewFromInt(1).Add(rs)))
	return rsi.InexactFloat64()
}

// calculateBollingerWidth returns (upper-lower)/middle for a period-length SMA+2σ band.
func calculateBollingerWidth(closes []decimal.Decimal, period int) float64 {
	if len(closes) < period {
		return 0
	}
	window := closes[len(closes)-period:]
	sma := utils.CalculateMean(window)
	stddev := utils.CalculateStdDev(window)
	if sma.IsZero() {
		return 0
	}
	upper := sma.Add(stddev.Mul(decimal.NewFromInt(2)))
	lower := sma.Sub(stddev.Mul(decimal.NewFromInt(2)))
	return upper.Sub(lower).Div(sma).InexactFloat64()
}

// calculateMACD computes the 12/26/9 MACD triple (macd, signal, histogram).
func calculateMACD(closes []decimal.Decimal) (macd, signal, histogram float64) {
	if len(closes) < 26 {
		return 0, 0, 0
	}
	ema12 := utils.NewEMA(12)
	ema26 := utils.NewEMA(26)
	macdSeries := make([]decimal.Decimal, 0, len(closes))
	for _, c := range closes {
		f12 := ema12.Add(c)
		f26 := ema26.Add(c)
		macdSeries = append(macdSeries, f12.Sub(f26))
	}
	signalEMA := utils.NewEMA(9)
	var sig decimal.Decimal
	for _, m := range macdSeries {
		sig = signalEMA.Add(m)
	}
	last := macdSeries[len(macdSeries)-1]
	return last.InexactFloat64(), sig.InexactFloat64(), last.Sub(sig).InexactFloat64()
}

// calculateATRFromTicks approximates ATR from a tick-price series when no
// candle history is available, by averaging the absolute tick-to-tick price
// change over the last `period` intervals as a proxy true range.
func calculateATRFromTicks(closes []decimal.Decimal, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	window := closes[len(closes)-period-1:]
	trs := make([]decimal.Decimal, 0, period)
	for i := 1; i < len(window); i++ {
		trs = append(trs, window[i].Sub(window[i-1]).Abs())
	}
	return utils.CalculateMean(trs).InexactFloat64()
}
