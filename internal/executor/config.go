package executor

import "time"

// TrustPolicy gates execution by a strategy's cached trust score before it
// is even allowed to generate a signal this cycle.
type TrustPolicy struct {
	HardRejectionThreshold float64
	SoftWarningThreshold   float64
	AllowOverride          bool
	Enabled                bool
}

// DefaultTrustPolicy returns conservative production defaults.
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		HardRejectionThreshold: 0.3,
		SoftWarningThreshold:   0.5,
		AllowOverride:          true,
		Enabled:                true,
	}
}

// EntropyConfig perturbs signal confidence to avoid fully deterministic,
// easily-gamed strategy behavior.
type EntropyConfig struct {
	Enabled         bool
	NoiseStdDev     float64
	SkipProbability float64
	MinConfidence   float64
}

// DefaultEntropyConfig enables entropy injection with mild confidence noise
// and no random skipping; each strategy's EntropyScore scales the effect.
func DefaultEntropyConfig() EntropyConfig {
	return EntropyConfig{
		Enabled:         true,
		NoiseStdDev:     0.05,
		SkipProbability: 0.0,
		MinConfidence:   0.1,
	}
}

// Config configures one StrategyExecutor.
type Config struct {
	ExecutionInterval        time.Duration
	DefaultSignalTTL         time.Duration
	ApplyEntropy             bool
	ValidateMarketConditions bool
	SkipFailedStrategies     bool
	MaxConsecutiveErrors     int
	StrategyExecutionTimeout time.Duration
	ExecutionMode            ExecutionMode
	TrustPolicy              TrustPolicy
	Entropy                  EntropyConfig
	BackoffBase              time.Duration
	BackoffMax               time.Duration
	FactorAnalysisInterval   time.Duration
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		ExecutionInterval:        5 * time.Second,
		DefaultSignalTTL:         60 * time.Second,
		ApplyEntropy:             true,
		ValidateMarketConditions: true,
		SkipFailedStrategies:     false,
		MaxConsecutiveErrors:     3,
		StrategyExecutionTimeout: 2 * time.Second,
		ExecutionMode:            ModePaper,
		TrustPolicy:              DefaultTrustPolicy(),
		Entropy:                  DefaultEntropyConfig(),
		BackoffBase:              time.Second,
		BackoffMax:               time.Minute,
		FactorAnalysisInterval:   time.Hour,
	}
}
