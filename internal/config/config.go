// Package config loads the pipeline's startup configuration: defaults,
// overlaid by an optional file, overlaid by environment variables, via
// viper — following polymarket-mm's internal/config layered-load
// pattern. The resulting Config is immutable for the duration of a
// cycle; only RegimeWarningConfig is hot-reloadable, via fsnotify,
// between cycles.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/regime"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/spf13/viper"
)

// Config is the top-level, immutable-per-cycle configuration: execution
// tunables plus the RiskManagerConfig and RegimeWarningConfig sub-trees.
type Config struct {
	ExecutionIntervalMs        int64  `mapstructure:"execution_interval_ms"`
	DefaultSignalTTLSeconds    int64  `mapstructure:"default_signal_ttl_seconds"`
	ApplyEntropy               bool   `mapstructure:"apply_entropy"`
	ValidateMarketConditions   bool   `mapstructure:"validate_market_conditions"`
	SkipFailedStrategies       bool   `mapstructure:"skip_failed_strategies"`
	MaxConsecutiveErrors       int    `mapstructure:"max_consecutive_errors"`
	StrategyExecutionTimeoutMs int64  `mapstructure:"strategy_execution_timeout_ms"`
	ExecutionMode              string `mapstructure:"execution_mode"`

	TrustPolicy       TrustPolicyConfig `mapstructure:"trust_policy"`
	Entropy           EntropyConfig     `mapstructure:"entropy"`
	RiskManager       RiskManagerConfig `mapstructure:"risk_manager"`
	RegimeWarning     RegimeWarningConfig `mapstructure:"regime_warning"`
	BackoffBaseMs     int64             `mapstructure:"backoff_base_ms"`
	BackoffMaxMs      int64             `mapstructure:"backoff_max_ms"`
	FactorAnalysisMin int64             `mapstructure:"factor_analysis_interval_minutes"`
}

// TrustPolicyConfig mirrors executor.TrustPolicy with mapstructure tags.
type TrustPolicyConfig struct {
	HardRejectionThreshold float64 `mapstructure:"hard_rejection_threshold"`
	SoftWarningThreshold   float64 `mapstructure:"soft_warning_threshold"`
	AllowOverride          bool    `mapstructure:"allow_override"`
	Enabled                bool    `mapstructure:"enabled"`
}

// EntropyConfig mirrors executor.EntropyConfig with mapstructure tags.
type EntropyConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	NoiseStdDev     float64 `mapstructure:"noise_std_dev"`
	SkipProbability float64 `mapstructure:"skip_probability"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
}

// RiskManagerConfig mirrors risk.Config with mapstructure tags; the
// exempt-strategy set is a list here since viper has no native set type.
type RiskManagerConfig struct {
	MinSignalConfidence    float64  `mapstructure:"min_signal_confidence"`
	MinTrustScore          float64  `mapstructure:"min_trust_score"`
	MaxVolatility          float64  `mapstructure:"max_volatility"`
	MinLiquidity           float64  `mapstructure:"min_liquidity"`
	MaxConcurrentTrades    int      `mapstructure:"max_concurrent_trades"`
	MaxStrategyAllocation  float64  `mapstructure:"max_strategy_allocation"`
	MaxDailyDrawdown       float64  `mapstructure:"max_daily_drawdown"`
	MaxPortfolioAllocation float64  `mapstructure:"max_portfolio_allocation"`
	MaxPositionSize        float64  `mapstructure:"max_position_size"`
	ApplyVolatilityFactor  bool     `mapstructure:"apply_volatility_factor"`
	ExemptStrategies       []string `mapstructure:"exempt_strategies"`
	UseRegimeSizing        bool     `mapstructure:"use_regime_sizing"`
}

// IndicatorConfig mirrors regime.IndicatorConfig with mapstructure tags.
type IndicatorConfig struct {
	Threshold        float64       `mapstructure:"threshold"`
	CooldownSeconds  int64         `mapstructure:"cooldown_seconds"`
	DecaySeconds     int64         `mapstructure:"decay_seconds"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	Enabled          bool          `mapstructure:"enabled"`
}

// RegimeWarningConfig mirrors regime.Config with mapstructure tags.
// Indicators is keyed by the indicator's string name (e.g.
// "volatility_spike"); this is the sub-tree fsnotify hot-reloads.
type RegimeWarningConfig struct {
	PollIntervalSeconds  int64                      `mapstructure:"poll_interval_seconds"`
	Indicators           map[string]IndicatorConfig `mapstructure:"indicators"`
	MinForecastConfidence float64                   `mapstructure:"min_forecast_confidence"`
	WarmupStrategies     map[string][]string         `mapstructure:"warmup_strategies"`
	CooldownStrategies   map[string][]string         `mapstructure:"cooldown_strategies"`
}

// ToExecutorConfig converts the flat viper-decoded fields into
// executor.Config, the shape the Executor actually consumes.
func (c Config) ToExecutorConfig() executor.Config {
	return executor.Config{
		ExecutionInterval:        time.Duration(c.ExecutionIntervalMs) * time.Millisecond,
		DefaultSignalTTL:         time.Duration(c.DefaultSignalTTLSeconds) * time.Second,
		ApplyEntropy:             c.ApplyEntropy,
		ValidateMarketConditions: c.ValidateMarketConditions,
		SkipFailedStrategies:     c.SkipFailedStrategies,
		MaxConsecutiveErrors:     c.MaxConsecutiveErrors,
		StrategyExecutionTimeout: time.Duration(c.StrategyExecutionTimeoutMs) * time.Millisecond,
		ExecutionMode:            executor.ExecutionMode(c.ExecutionMode),
		TrustPolicy:              c.TrustPolicy.toExecutorTrustPolicy(),
		Entropy:                  c.Entropy.toExecutorEntropyConfig(),
		BackoffBase:              time.Duration(c.BackoffBaseMs) * time.Millisecond,
		BackoffMax:               time.Duration(c.BackoffMaxMs) * time.Millisecond,
		FactorAnalysisInterval:   time.Duration(c.FactorAnalysisMin) * time.Minute,
	}
}

func (t TrustPolicyConfig) toExecutorTrustPolicy() executor.TrustPolicy {
	return executor.TrustPolicy{
		HardRejectionThreshold: t.HardRejectionThreshold,
		SoftWarningThreshold:   t.SoftWarningThreshold,
		AllowOverride:          t.AllowOverride,
		Enabled:                t.Enabled,
	}
}

func (e EntropyConfig) toExecutorEntropyConfig() executor.EntropyConfig {
	return executor.EntropyConfig{
		Enabled:         e.Enabled,
		NoiseStdDev:     e.NoiseStdDev,
		SkipProbability: e.SkipProbability,
		MinConfidence:   e.MinConfidence,
	}
}

// ToRiskConfig converts RiskManagerConfig into risk.Config.
func (c Config) ToRiskConfig() risk.Config {
	return c.RiskManager.toRiskConfig()
}

func (r RiskManagerConfig) toRiskConfig() risk.Config {
	exempt := make(map[string]bool, len(r.ExemptStrategies))
	for _, s := range r.ExemptStrategies {
		exempt[s] = true
	}
	return risk.Config{
		MinSignalConfidence:    r.MinSignalConfidence,
		MinTrustScore:          r.MinTrustScore,
		MaxVolatility:          r.MaxVolatility,
		MinLiquidity:           r.MinLiquidity,
		MaxConcurrentTrades:    r.MaxConcurrentTrades,
		MaxStrategyAllocation:  r.MaxStrategyAllocation,
		MaxDailyDrawdown:       r.MaxDailyDrawdown,
		MaxPortfolioAllocation: r.MaxPortfolioAllocation,
		MaxPositionSize:        r.MaxPositionSize,
		ApplyVolatilityFactor:  r.ApplyVolatilityFactor,
		ExemptStrategies:       exempt,
		UseRegimeSizing:        r.UseRegimeSizing,
	}
}

// ToRegimeConfig converts RegimeWarningConfig into regime.Config.
func (c Config) ToRegimeConfig() regime.Config {
	return c.RegimeWarning.toRegimeConfig()
}

// ToRegimeConfig converts a standalone RegimeWarningConfig into
// regime.Config, for callers that only hold the hot-reloaded sub-tree
// (e.g. a Loader.Watch callback).
func (rw RegimeWarningConfig) ToRegimeConfig() regime.Config {
	return rw.toRegimeConfig()
}

func (rw RegimeWarningConfig) toRegimeConfig() regime.Config {
	indicators := make(map[regime.Indicator]regime.IndicatorConfig, len(rw.Indicators))
	for name, ind := range rw.Indicators {
		indicators[regime.Indicator(name)] = regime.IndicatorConfig{
			Threshold:     ind.Threshold,
			Cooldown:      time.Duration(ind.CooldownSeconds) * time.Second,
			Decay:         time.Duration(ind.DecaySeconds) * time.Second,
			MinConfidence: ind.MinConfidence,
			Enabled:       ind.Enabled,
		}
	}
	return regime.Config{
		PollInterval:          time.Duration(rw.PollIntervalSeconds) * time.Second,
		Indicators:            indicators,
		MinForecastConfidence: rw.MinForecastConfidence,
		WarmupStrategies:      stringKeyedRegimeMap(rw.WarmupStrategies),
		CooldownStrategies:    stringKeyedRegimeMap(rw.CooldownStrategies),
	}
}

func stringKeyedRegimeMap(m map[string][]string) map[regime.RegimeType][]string {
	out := make(map[regime.RegimeType][]string, len(m))
	for k, v := range m {
		out[regime.RegimeType(k)] = v
	}
	return out
}

// Loader holds the viper instance behind a loaded Config so the process
// can later Watch it for file changes without re-deriving defaults.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a Loader for the config file at path (may be empty,
// meaning defaults + env only).
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// Load reads defaults, then the file (ignored if absent), then
// PIPELINE_-prefixed environment variables, into a Config.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Load is a one-shot convenience wrapper around NewLoader(path).Load(),
// for callers that never need hot-reload.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
