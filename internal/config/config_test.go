package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, int64(5000), cfg.ExecutionIntervalMs)
	require.Equal(t, "paper", cfg.ExecutionMode)
	require.True(t, cfg.TrustPolicy.Enabled)
	require.InDelta(t, 0.3, cfg.RiskManager.MinSignalConfidence, 1e-9)
	require.True(t, cfg.RegimeWarning.Indicators["volatility_spike"].Enabled)
	require.False(t, cfg.RegimeWarning.Indicators["social_sentiment"].Enabled)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
execution_mode: live
max_consecutive_errors: 7
risk_manager:
  max_position_size: 0.5
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "live", cfg.ExecutionMode)
	require.Equal(t, 7, cfg.MaxConsecutiveErrors)
	require.InDelta(t, 0.5, cfg.RiskManager.MaxPositionSize, 1e-9)
	// Untouched keys keep their default.
	require.Equal(t, int64(5000), cfg.ExecutionIntervalMs)
}

func TestToExecutorConfigConvertsDurationsAndMode(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	ec := cfg.ToExecutorConfig()
	require.Equal(t, 5*time.Second, ec.ExecutionInterval)
	require.Equal(t, 2*time.Second, ec.StrategyExecutionTimeout)
	require.Equal(t, "paper", string(ec.ExecutionMode))
}

func TestToRiskConfigBuildsExemptSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
risk_manager:
  exempt_strategies: ["momentum", "breakout"]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	rc := cfg.ToRiskConfig()
	require.True(t, rc.ExemptStrategies["momentum"])
	require.True(t, rc.ExemptStrategies["breakout"])
	require.False(t, rc.ExemptStrategies["mean_reversion"])
}

func TestToRegimeConfigConvertsIndicatorKeysAndDurations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	rc := cfg.ToRegimeConfig()
	ind, ok := rc.Indicators["volatility_spike"]
	require.True(t, ok)
	require.Equal(t, 30*time.Second, ind.Cooldown)
	require.Equal(t, 5*time.Minute, ind.Decay)

	require.ElementsMatch(t, []string{"momentum", "trend_following", "breakout"}, rc.WarmupStrategies["bull"])
}

func TestWatchReloadsRegimeWarningOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regime_warning:
  indicators:
    volatility_spike:
      threshold: 2.5
      enabled: true
`), 0644))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan RegimeWarningConfig, 1)
	require.NoError(t, loader.Watch(zap.NewNop(), func(rw RegimeWarningConfig) {
		changed <- rw
	}))

	require.NoError(t, os.WriteFile(path, []byte(`
regime_warning:
  indicators:
    volatility_spike:
      threshold: 4.0
      enabled: false
`), 0644))

	select {
	case rw := <-changed:
		require.InDelta(t, 4.0, rw.Indicators["volatility_spike"].Threshold, 1e-9)
		require.False(t, rw.Indicators["volatility_spike"].Enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not observed")
	}
}
