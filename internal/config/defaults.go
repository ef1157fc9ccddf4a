package config

import "github.com/spf13/viper"

// applyDefaults seeds viper with the same defaults executor.DefaultConfig,
// risk.DefaultConfig, and regime.DefaultConfig carry in code, so a
// pipeline started with no config file at all still runs with spec
// §4's worked-example values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("execution_interval_ms", 5000)
	v.SetDefault("default_signal_ttl_seconds", 60)
	v.SetDefault("apply_entropy", true)
	v.SetDefault("validate_market_conditions", true)
	v.SetDefault("skip_failed_strategies", false)
	v.SetDefault("max_consecutive_errors", 3)
	v.SetDefault("strategy_execution_timeout_ms", 2000)
	v.SetDefault("execution_mode", "paper")
	v.SetDefault("backoff_base_ms", 1000)
	v.SetDefault("backoff_max_ms", 60000)
	v.SetDefault("factor_analysis_interval_minutes", 60)

	v.SetDefault("trust_policy.hard_rejection_threshold", 0.3)
	v.SetDefault("trust_policy.soft_warning_threshold", 0.5)
	v.SetDefault("trust_policy.allow_override", true)
	v.SetDefault("trust_policy.enabled", true)

	v.SetDefault("entropy.enabled", true)
	v.SetDefault("entropy.noise_std_dev", 0.05)
	v.SetDefault("entropy.skip_probability", 0.0)
	v.SetDefault("entropy.min_confidence", 0.1)

	v.SetDefault("risk_manager.min_signal_confidence", 0.3)
	v.SetDefault("risk_manager.min_trust_score", 0.3)
	v.SetDefault("risk_manager.max_volatility", 0.7)
	v.SetDefault("risk_manager.min_liquidity", 0.2)
	v.SetDefault("risk_manager.max_concurrent_trades", 10)
	v.SetDefault("risk_manager.max_strategy_allocation", 0.25)
	v.SetDefault("risk_manager.max_daily_drawdown", 0.1)
	v.SetDefault("risk_manager.max_portfolio_allocation", 0.75)
	v.SetDefault("risk_manager.max_position_size", 0.25)
	v.SetDefault("risk_manager.apply_volatility_factor", true)
	v.SetDefault("risk_manager.exempt_strategies", []string{})
	v.SetDefault("risk_manager.use_regime_sizing", false)

	v.SetDefault("regime_warning.poll_interval_seconds", 5)
	v.SetDefault("regime_warning.min_forecast_confidence", 0.2)
	v.SetDefault("regime_warning.indicators", map[string]any{
		"volatility_spike":  indicatorDefault(2.5, 30, 300, 0.5, true),
		"momentum_reversal": indicatorDefault(0.6, 30, 300, 0.5, true),
		"volume_anomaly":    indicatorDefault(2.0, 30, 300, 0.5, true),
		"social_sentiment":  indicatorDefault(0.7, 60, 600, 0.5, false),
		"order_book_skew":   indicatorDefault(0.5, 30, 300, 0.5, true),
	})
	v.SetDefault("regime_warning.warmup_strategies", map[string][]string{
		"bear":     {"short", "hedging", "defensive"},
		"bull":     {"momentum", "trend_following", "breakout"},
		"volatile": {"volatility", "straddle"},
		"sideways": {"mean_reversion", "range"},
	})
	v.SetDefault("regime_warning.cooldown_strategies", map[string][]string{
		"bear":     {"breakout_momentum", "long_momentum"},
		"bull":     {"mean_reversion", "short"},
		"volatile": {"tight_stops", "leverage"},
		"sideways": {"breakout", "trend_following"},
	})
}

func indicatorDefault(threshold float64, cooldownSeconds, decaySeconds int64, minConfidence float64, enabled bool) map[string]any {
	return map[string]any{
		"threshold":        threshold,
		"cooldown_seconds": cooldownSeconds,
		"decay_seconds":    decaySeconds,
		"min_confidence":   minConfidence,
		"enabled":          enabled,
	}
}
