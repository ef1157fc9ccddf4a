package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStrategy struct {
	name     string
	sig      *signal.Signal
	err      error
	delay    time.Duration
	executed int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.sig, f.err
}

func (f *fakeStrategy) RiskProfile() risk.RiskProfile { return risk.DefaultRiskProfile() }

func (f *fakeStrategy) OnSignalExecuted(sig *signal.Signal, result signal.ExecutionResultRef) error {
	f.executed++
	return nil
}

func (f *fakeStrategy) EntropyScore() float64 { return 0.0 }

type fakeMarketData struct {
	data *market.Data
	err  error
}

func (f *fakeMarketData) GetLatestMarketData(ctx context.Context, symbol market.Symbol) (*market.Data, error) {
	return f.data, f.err
}

type fakeExecService struct {
	result *ExecutionResult
	err    error
	calls  int
}

func (f *fakeExecService) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testSignal(strategyID string) *signal.Signal {
	sig := signal.New(strategyID, market.Symbol("BTC/USD"), signal.ActionEnter, signal.DirectionLong)
	sig.Price = decimal.NewFromInt(100)
	sig.SetConfidence(0.9)
	sig.SetStrength(0.8)
	return sig
}

func testData() *market.Data {
	return &market.Data{
		Symbol:    market.Symbol("BTC/USD"),
		Timestamp: time.Now(),
	}
}

func newTestExecutor(t *testing.T, s strategy.Strategy, exec *fakeExecService) (*Executor, *risk.Manager) {
	t.Helper()
	logger := zap.NewNop()
	reg := strategy.NewRegistry()
	reg.Register(s.Name(), func() strategy.Strategy { return s })

	riskMgr := risk.New(logger, risk.DefaultConfig())
	riskMgr.RegisterStrategy(s.Name(), s.RiskProfile())

	cfg := DefaultConfig()
	cfg.ApplyEntropy = false

	e := New(logger, cfg, reg, []market.Symbol{market.Symbol("BTC/USD")}, riskMgr, &fakeMarketData{data: testData()}, exec)
	return e, riskMgr
}

func TestRunStrategyPassDispatchesValidSignal(t *testing.T) {
	fs := &fakeStrategy{name: "momentum-test", sig: testSignal("momentum-test")}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted, ExecutedQty: decimal.NewFromInt(1)}}
	e, _ := newTestExecutor(t, fs, exec)

	e.runStrategyPass(context.Background(), fs, testData())

	require.Equal(t, 1, exec.calls)
	require.Equal(t, 1, fs.executed)
	require.Equal(t, signal.StatusExecuted, fs.sig.Status)
}

func TestRunStrategyPassSkipsWhenPaused(t *testing.T) {
	fs := &fakeStrategy{name: "paused-test", sig: testSignal("paused-test")}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)
	e.config.SkipFailedStrategies = true

	e.states.get(fs.name).health = HealthPaused

	e.runStrategyPass(context.Background(), fs, testData())

	require.Equal(t, 0, exec.calls)
}

func TestRunStrategyPassRespectsRiskDisabledGate(t *testing.T) {
	fs := &fakeStrategy{name: "disabled-test", sig: testSignal("disabled-test")}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, riskMgr := newTestExecutor(t, fs, exec)

	riskMgr.DisableStrategy(fs.name, time.Now().Add(time.Hour))

	e.runStrategyPass(context.Background(), fs, testData())

	require.Equal(t, 0, exec.calls)
}

func TestRunStrategyPassNoSignalRecordsSuccess(t *testing.T) {
	fs := &fakeStrategy{name: "quiet-test", sig: nil}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)

	e.runStrategyPass(context.Background(), fs, testData())

	require.Equal(t, 0, exec.calls)
	require.Equal(t, HealthHealthy, e.states.healthOf(fs.name))
}

func TestRunStrategyPassGenerationErrorEscalatesHealth(t *testing.T) {
	fs := &fakeStrategy{name: "erroring-test", err: errors.New("boom")}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)
	e.config.MaxConsecutiveErrors = 2

	e.runStrategyPass(context.Background(), fs, testData())
	require.Equal(t, HealthDegraded, e.states.healthOf(fs.name))

	e.runStrategyPass(context.Background(), fs, testData())
	require.Equal(t, HealthCritical, e.states.healthOf(fs.name))

	require.Equal(t, 0, exec.calls)
}

func TestGenerateWithTimeoutReturnsErrTimeout(t *testing.T) {
	fs := &fakeStrategy{name: "slow-test", sig: testSignal("slow-test"), delay: 100 * time.Millisecond}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)
	e.config.StrategyExecutionTimeout = 10 * time.Millisecond

	_, err := e.generateWithTimeout(context.Background(), fs, testData())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTimeout))
}

func TestGenerateWithTimeoutRecoversPanic(t *testing.T) {
	fs := &panicStrategy{name: "panicky-test"}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)

	_, err := e.generateWithTimeout(context.Background(), fs, testData())
	require.Error(t, err)
}

type panicStrategy struct{ name string }

func (p *panicStrategy) Name() string { return p.name }
func (p *panicStrategy) GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error) {
	panic("strategy exploded")
}
func (p *panicStrategy) RiskProfile() risk.RiskProfile { return risk.DefaultRiskProfile() }
func (p *panicStrategy) OnSignalExecuted(*signal.Signal, signal.ExecutionResultRef) error {
	return nil
}
func (p *panicStrategy) EntropyScore() float64 { return 0.0 }

func TestDispatchBacksOffOnOverload(t *testing.T) {
	fs := &fakeStrategy{name: "overload-test", sig: testSignal("overload-test")}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusOverloaded}}
	e, _ := newTestExecutor(t, fs, exec)

	e.runStrategyPass(context.Background(), fs, testData())

	require.True(t, e.backoff.Blocked(fs.name, time.Now()))
}

func TestHealthEscalationAndPause(t *testing.T) {
	states := newStateTable()
	id := "escalation-test"

	h := states.recordError(id, 2)
	require.Equal(t, HealthDegraded, h)

	h = states.recordError(id, 2)
	require.Equal(t, HealthCritical, h)

	states.recordSuccess(id)
	require.Equal(t, HealthHealthy, states.healthOf(id))

	for i := 0; i < 2; i++ {
		states.recordError(id, 1)
	}
	h = states.recordError(id, 1)
	require.Equal(t, HealthPaused, h)
}

func TestBackoffTrackerDoublesAndResets(t *testing.T) {
	b := newBackoffTracker(time.Second, 8*time.Second)
	now := time.Now()

	d1 := b.RecordOverload("s1", now)
	require.Equal(t, time.Second, d1)
	require.True(t, b.Blocked("s1", now.Add(500*time.Millisecond)))

	d2 := b.RecordOverload("s1", now)
	require.Equal(t, 2*time.Second, d2)

	b.Reset("s1")
	require.False(t, b.Blocked("s1", now))
}

func TestEntropyInjectorDropsBelowMinConfidence(t *testing.T) {
	cfg := EntropyConfig{Enabled: true, NoiseStdDev: 0, SkipProbability: 0, MinConfidence: 0.95}
	inj := newDefaultEntropyInjector(cfg, 42)

	sig := testSignal("entropy-test")
	sig.SetConfidence(0.5)

	drop := inj.Inject(sig, 1.0)
	require.True(t, drop)
}

func TestEntropyInjectorSkipProbabilityAlwaysDrops(t *testing.T) {
	cfg := EntropyConfig{Enabled: true, NoiseStdDev: 0, SkipProbability: 1.0, MinConfidence: 0}
	inj := newDefaultEntropyInjector(cfg, 7)

	sig := testSignal("entropy-skip-test")
	drop := inj.Inject(sig, 1.0)
	require.True(t, drop)
}

func TestEntropyInjectorDisabledNeverDrops(t *testing.T) {
	cfg := EntropyConfig{Enabled: false, NoiseStdDev: 10, SkipProbability: 1.0, MinConfidence: 1.0}
	inj := newDefaultEntropyInjector(cfg, 3)

	sig := testSignal("entropy-disabled-test")
	drop := inj.Inject(sig, 1.0)
	require.False(t, drop)
}

func TestSignedDeltaByDirection(t *testing.T) {
	long := testSignal("delta-test")
	long.Quantity = decimal.NewFromInt(5)
	require.True(t, signedDelta(long).Equal(decimal.NewFromInt(5)))

	short := signal.New("delta-test", market.Symbol("BTC/USD"), signal.ActionEnter, signal.DirectionShort)
	short.Quantity = decimal.NewFromInt(5)
	require.True(t, signedDelta(short).Equal(decimal.NewFromInt(-5)))
}

type recordingReporter struct {
	noopReporter
	lastEvent string
	lastField map[string]string
}

func (r *recordingReporter) ReportCustom(eventName string, fields map[string]string) {
	r.lastEvent = eventName
	r.lastField = fields
}

func TestApplyAttributionRiskAdjustmentPoorExecution(t *testing.T) {
	fs := &fakeStrategy{name: "attribution-test"}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)

	reporter := &recordingReporter{}
	e.SetReporter(reporter)

	e.applyAttributionRiskAdjustment("attribution-test", Attribution{ExecutionContribution: -0.20})

	require.Equal(t, "attribution_risk_adjustment", reporter.lastEvent)
	require.Equal(t, "0.800", reporter.lastField["risk_modifier"])
	require.Equal(t, "Poor execution efficiency (-20%)", reporter.lastField["reason"])
}

// TestApplyAttributionRiskAdjustmentFeedsBackIntoSizing verifies the
// attribution modifier closes the loop into RiskManager.CalculatePositionSize
// rather than dead-ending at telemetry.
func TestApplyAttributionRiskAdjustmentFeedsBackIntoSizing(t *testing.T) {
	fs := &fakeStrategy{name: "attribution-sizing-test"}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, riskMgr := newTestExecutor(t, fs, exec)

	sig := testSignal("attribution-sizing-test")
	before := riskMgr.CalculatePositionSize(sig, testData())
	require.NotContains(t, before.Adjustments, "attribution")

	e.applyAttributionRiskAdjustment("attribution-sizing-test", Attribution{ExecutionContribution: -0.20})

	after := riskMgr.CalculatePositionSize(sig, testData())
	require.InDelta(t, 0.8, after.Adjustments["attribution"], 1e-9)
	require.Less(t, after.RiskAdjustedSize, before.RiskAdjustedSize)
}

// TestRunFactorAnalysisFeedsBackIntoSizing verifies a SingleFactorOverexposure
// alert's modifier reaches RiskManager, not just telemetry.
func TestRunFactorAnalysisFeedsBackIntoSizing(t *testing.T) {
	fs := &fakeStrategy{name: "factor-sizing-test"}
	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, riskMgr := newTestExecutor(t, fs, exec)
	e.SetFactorAnalysisEngine(&fakeFactorEngine{
		profile: FactorProfile{
			Alerts: []FactorAlert{
				{Type: FactorAlertSingleFactorOverexposure, Factor: "momentum", Threshold: 0.5, Value: 0.75},
			},
		},
	})

	e.runFactorAnalysis(context.Background(), "factor-sizing-test")

	sig := testSignal("factor-sizing-test")
	sizing := riskMgr.CalculatePositionSize(sig, testData())
	require.InDelta(t, 0.9, sizing.Adjustments["factor"], 1e-9)
}

type fakeFactorEngine struct {
	profile FactorProfile
	err     error
}

func (f *fakeFactorEngine) RecordReturn(ctx context.Context, strategyID string, at time.Time, ret float64) error {
	return nil
}

func (f *fakeFactorEngine) AnalyzeExposures(ctx context.Context, strategyID string) (FactorProfile, error) {
	return f.profile, f.err
}

// TestRunStrategyPassProducesSyntheticResultsPerGate ensures every rejecting
// gate in the chain returns a uniform ExecutionResult, not a void outcome,
// so callers observe a consistent result stream regardless of which gate
// stopped the pass.
func TestRunStrategyPassProducesSyntheticResultsPerGate(t *testing.T) {
	t.Run("health gate", func(t *testing.T) {
		fs := &fakeStrategy{name: "health-gate-test", sig: testSignal("health-gate-test")}
		exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
		e, _ := newTestExecutor(t, fs, exec)
		e.config.SkipFailedStrategies = true
		e.states.get(fs.name).health = HealthPaused

		result := e.runStrategyPass(context.Background(), fs, testData())

		require.NotNil(t, result)
		require.Equal(t, StatusRejected, result.Status)
		require.Equal(t, "health", result.AdditionalData["gate"])
	})

	t.Run("risk disabled gate", func(t *testing.T) {
		fs := &fakeStrategy{name: "risk-disabled-gate-test", sig: testSignal("risk-disabled-gate-test")}
		exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
		e, riskMgr := newTestExecutor(t, fs, exec)
		riskMgr.DisableStrategy(fs.name, time.Now().Add(time.Hour))

		result := e.runStrategyPass(context.Background(), fs, testData())

		require.NotNil(t, result)
		require.Equal(t, StatusRejected, result.Status)
		require.Equal(t, "risk_disabled", result.AdditionalData["gate"])
	})

	t.Run("trust gate hard rejection", func(t *testing.T) {
		fs := &fakeStrategy{name: "trust-gate-test", sig: testSignal("trust-gate-test")}
		exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
		e, riskMgr := newTestExecutor(t, fs, exec)
		e.config.TrustPolicy.Enabled = true
		e.config.TrustPolicy.HardRejectionThreshold = 0.3
		e.config.TrustPolicy.SoftWarningThreshold = 0.5
		riskMgr.UpdateMetrics(fs.name, riskTrustPerformance(0.2))

		result := e.runStrategyPass(context.Background(), fs, testData())

		require.NotNil(t, result)
		require.Equal(t, StatusRejected, result.Status)
		require.Equal(t, "trust", result.AdditionalData["gate"])
		require.Equal(t, "TrustGate", result.AdditionalData["code"])
		require.Contains(t, result.ErrorMessage, "Trust-based rejection")
	})

	t.Run("governance veto", func(t *testing.T) {
		fs := &fakeStrategy{name: "governance-gate-test", sig: testSignal("governance-gate-test")}
		exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
		e, _ := newTestExecutor(t, fs, exec)
		e.SetGovernanceEnforcer(fakeGovernanceEnforcer{
			result: EnforcementResult{
				Allowed: false,
				Violations: []GovernanceViolation{
					{Code: "GOV-TRUST-MIN", Reason: "trust below mandated floor", Severity: SeverityCritical},
				},
			},
		})

		result := e.runStrategyPass(context.Background(), fs, testData())

		require.NotNil(t, result)
		require.Equal(t, StatusRejected, result.Status)
		require.Equal(t, "GOV-TRUST-MIN", result.AdditionalData["code"])
		require.Equal(t, string(SeverityCritical), result.AdditionalData["severity"])
	})

	t.Run("dispatched success still returns a result", func(t *testing.T) {
		fs := &fakeStrategy{name: "dispatch-result-test", sig: testSignal("dispatch-result-test")}
		exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
		e, _ := newTestExecutor(t, fs, exec)

		result := e.runStrategyPass(context.Background(), fs, testData())

		require.NotNil(t, result)
		require.Equal(t, StatusCompleted, result.Status)
		require.Equal(t, fs.name, result.StrategyID)
	})
}

func riskTrustPerformance(trustScore float64) risk.Performance {
	return risk.Performance{TrustScore: &trustScore}
}

type fakeGovernanceEnforcer struct {
	result EnforcementResult
}

func (f fakeGovernanceEnforcer) EnforceRules(ctx context.Context, strategyID string, action GovernanceActionType, context map[string]string) EnforcementResult {
	return f.result
}

// TestSignalValidateGateRejectsPricelessEnterSignal ensures the Enter-must-
// carry-a-price-or-market-order invariant is enforced in the gate chain,
// not just in isolated unit tests of Signal.Validate.
func TestSignalValidateGateRejectsPricelessEnterSignal(t *testing.T) {
	fs := &fakeStrategy{name: "invariant-test"}
	sig := signal.New(fs.name, market.Symbol("BTC/USD"), signal.ActionEnter, signal.DirectionLong)
	sig.SetConfidence(0.9)
	sig.SetStrength(0.8)
	fs.sig = sig

	exec := &fakeExecService{result: &ExecutionResult{Status: StatusCompleted}}
	e, _ := newTestExecutor(t, fs, exec)

	result := e.runStrategyPass(context.Background(), fs, testData())

	require.NotNil(t, result)
	require.Equal(t, StatusRejected, result.Status)
	require.Equal(t, "signal_validation", result.AdditionalData["gate"])
	require.Equal(t, 0, exec.calls)
}
