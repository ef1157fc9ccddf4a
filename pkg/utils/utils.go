// Package utils provides small numeric helpers shared across the
// marketdata and strategy packages.
package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// CalculateMean calculates the mean of decimal values.
func CalculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// CalculateStdDev calculates standard deviation of decimal values.
func CalculateStdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	mean := CalculateMean(values)

	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// EMA calculates exponential moving average.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates a new EMA calculator.
func NewEMA(period int) *EMA {
	mult := decimal.NewFromFloat(2.0 / float64(period+1))
	return &EMA{
		period:     period,
		multiplier: mult,
	}
}

// Add adds a value and returns the current EMA.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++

	if e.count == 1 {
		e.current = value
		return e.current
	}

	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Current returns the current EMA value.
func (e *EMA) Current() decimal.Decimal {
	return e.current
}
