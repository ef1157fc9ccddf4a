package feedback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"go.uber.org/zap"
)

const (
	factorNameMomentum   = "momentum"
	factorNameVolatility = "volatility"
)

// FactorAnalysisConfig bounds the recording window and alert thresholds.
type FactorAnalysisConfig struct {
	WindowSize                int
	LowRSquaredThreshold      float64
	SingleExposureThreshold   float64
	CombinedExposureThreshold float64
	ShiftThreshold            float64
}

// DefaultFactorAnalysisConfig mirrors typical factor-review thresholds.
func DefaultFactorAnalysisConfig() FactorAnalysisConfig {
	return FactorAnalysisConfig{
		WindowSize:                60,
		LowRSquaredThreshold:      0.1,
		SingleExposureThreshold:   2.0,
		CombinedExposureThreshold: 3.0,
		ShiftThreshold:            1.0,
	}
}

type returnPoint struct {
	at  time.Time
	ret float64
}

// FactorAnalysisEngine regresses a strategy's own return series against a
// two-factor basis derived from its own lag structure: a momentum factor
// (previous-period return) and a volatility factor (absolute previous-period
// return). No multi-asset factor time series is available through this
// collaborator's interface (RecordReturn only carries the strategy's own
// return), so the regression is necessarily a single-strategy
// autocorrelation/volatility-clustering check rather than a market-wide
// factor model; it still answers the question that matters: is this
// strategy's return driven by a small number of dominant, explainable
// exposures, or is it noise.
type FactorAnalysisEngine struct {
	logger *zap.Logger
	cfg    FactorAnalysisConfig

	mu          sync.Mutex
	series      map[string][]returnPoint
	lastProfile map[string]executor.FactorProfile
}

// NewFactorAnalysisEngine constructs an engine with the given config.
func NewFactorAnalysisEngine(logger *zap.Logger, cfg FactorAnalysisConfig) *FactorAnalysisEngine {
	return &FactorAnalysisEngine{
		logger:      logger.Named("factor-analysis-engine"),
		cfg:         cfg,
		series:      make(map[string][]returnPoint),
		lastProfile: make(map[string]executor.FactorProfile),
	}
}

// RecordReturn appends one (time, return) observation to the strategy's
// series.
func (f *FactorAnalysisEngine) RecordReturn(ctx context.Context, strategyID string, at time.Time, ret float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	series := append(f.series[strategyID], returnPoint{at: at, ret: ret})
	if len(series) > f.cfg.WindowSize {
		series = series[len(series)-f.cfg.WindowSize:]
	}
	f.series[strategyID] = series
	return nil
}

// AnalyzeExposures regresses the strategy's returns against the momentum
// and volatility factors and flags exposure/fit alerts.
func (f *FactorAnalysisEngine) AnalyzeExposures(ctx context.Context, strategyID string) (executor.FactorProfile, error) {
	f.mu.Lock()
	series := append([]returnPoint(nil), f.series[strategyID]...)
	previous, hasPrevious := f.lastProfile[strategyID]
	f.mu.Unlock()

	if len(series) < 5 {
		return executor.FactorProfile{}, fmt.Errorf("feedback: insufficient return history for strategy %s", strategyID)
	}

	// Build (momentum, volatility) -> return samples from lag-1 structure.
	y := make([]float64, 0, len(series)-1)
	momentum := make([]float64, 0, len(series)-1)
	volatility := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		y = append(y, series[i].ret)
		momentum = append(momentum, series[i-1].ret)
		volatility = append(volatility, math.Abs(series[i-1].ret))
	}

	beta0, betaMomentum, betaVolatility, rSquared := olsTwoFactor(y, momentum, volatility)

	exposures := map[string]float64{
		factorNameMomentum:  betaMomentum,
		factorNameVolatility: betaVolatility,
	}

	profile := executor.FactorProfile{
		Exposures: exposures,
		RSquared:  rSquared,
	}
	_ = beta0 // intercept isn't reported as an exposure

	profile.Alerts = f.buildAlerts(exposures, rSquared, previous, hasPrevious)

	f.mu.Lock()
	f.lastProfile[strategyID] = profile
	f.mu.Unlock()

	return profile, nil
}

func (f *FactorAnalysisEngine) buildAlerts(exposures map[string]float64, rSquared float64, previous executor.FactorProfile, hasPrevious bool) []executor.FactorAlert {
	var alerts []executor.FactorAlert

	if rSquared < f.cfg.LowRSquaredThreshold {
		alerts = append(alerts, executor.FactorAlert{
			Type:      executor.FactorAlertLowRSquared,
			Factor:    "",
			Severity:  f.cfg.LowRSquaredThreshold - rSquared,
			Threshold: f.cfg.LowRSquaredThreshold,
			Value:     rSquared,
		})
	}

	combined := 0.0
	for name, beta := range exposures {
		abs := math.Abs(beta)
		combined += abs
		if abs > f.cfg.SingleExposureThreshold {
			alerts = append(alerts, executor.FactorAlert{
				Type:      executor.FactorAlertSingleFactorOverexposure,
				Factor:    name,
				Severity:  abs - f.cfg.SingleExposureThreshold,
				Threshold: f.cfg.SingleExposureThreshold,
				Value:     abs,
			})
		}
	}
	if combined > f.cfg.CombinedExposureThreshold {
		alerts = append(alerts, executor.FactorAlert{
			Type:      executor.FactorAlertCombinedExposureHigh,
			Factor:    "",
			Severity:  combined - f.cfg.CombinedExposureThreshold,
			Threshold: f.cfg.CombinedExposureThreshold,
			Value:     combined,
		})
	}

	if hasPrevious {
		for name, beta := range exposures {
			prevBeta := previous.Exposures[name]
			if math.Abs(beta-prevBeta) > f.cfg.ShiftThreshold {
				alerts = append(alerts, executor.FactorAlert{
					Type:      executor.FactorAlertFactorShift,
					Factor:    name,
					Severity:  math.Abs(beta - prevBeta),
					Threshold: f.cfg.ShiftThreshold,
					Value:     beta,
				})
			}
		}
	}

	return alerts
}

// olsTwoFactor solves y = b0 + b1*x1 + b2*x2 by closed-form normal
// equations (3x3 Gaussian elimination) and returns the coefficients plus
// the regression's r-squared.
func olsTwoFactor(y, x1, x2 []float64) (b0, b1, b2, rSquared float64) {
	n := float64(len(y))
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sumY, sumX1, sumX2, sumX1X1, sumX2X2, sumX1X2, sumX1Y, sumX2Y float64
	for i := range y {
		sumY += y[i]
		sumX1 += x1[i]
		sumX2 += x2[i]
		sumX1X1 += x1[i] * x1[i]
		sumX2X2 += x2[i] * x2[i]
		sumX1X2 += x1[i] * x2[i]
		sumX1Y += x1[i] * y[i]
		sumX2Y += x2[i] * y[i]
	}

	// Normal equations in matrix form A*beta = c, beta = [b0, b1, b2].
	a := [3][4]float64{
		{n, sumX1, sumX2, sumY},
		{sumX1, sumX1X1, sumX1X2, sumX1Y},
		{sumX2, sumX1X2, sumX2X2, sumX2Y},
	}

	beta, ok := solveLinear3(a)
	if !ok {
		return 0, 0, 0, 0
	}
	b0, b1, b2 = beta[0], beta[1], beta[2]

	meanY := sumY / n
	var ssRes, ssTot float64
	for i := range y {
		pred := b0 + b1*x1[i] + b2*x2[i]
		ssRes += (y[i] - pred) * (y[i] - pred)
		ssTot += (y[i] - meanY) * (y[i] - meanY)
	}
	if ssTot == 0 {
		return b0, b1, b2, 0
	}
	rSquared = 1 - ssRes/ssTot
	if rSquared < 0 {
		rSquared = 0
	}
	return b0, b1, b2, rSquared
}

// solveLinear3 solves a 3x3 augmented system [A|c] via Gaussian elimination
// with partial pivoting.
func solveLinear3(a [3][4]float64) (x [3]float64, ok bool) {
	for col := 0; col < 3; col++ {
		pivot := col
		for row := col + 1; row < 3; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return x, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := 0; row < 3; row++ {
			if row == col {
				continue
			}
			factor := a[row][col] / a[col][col]
			for k := col; k < 4; k++ {
				a[row][k] -= factor * a[col][k]
			}
		}
	}

	for i := 0; i < 3; i++ {
		x[i] = a[i][3] / a[i][i]
	}
	return x, true
}
