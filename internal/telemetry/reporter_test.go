package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReporterPublishesExecutionCompleteEvent(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer bus.Close()
	reporter := NewReporter(zap.NewNop(), bus)

	var mu sync.Mutex
	var got *Event
	bus.Subscribe(EventExecutionComplete, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		ev := e
		got = &ev
	})

	reporter.ReportExecutionComplete("s1", executor.ExecutionResult{
		Status:      executor.StatusCompleted,
		RealizedPnL: decimal.NewFromFloat(12.5),
		Latency:     50 * time.Millisecond,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "s1", got.StrategyID)
	require.Equal(t, "completed", got.Fields["status"])
}

func TestReporterReportErrorDoesNotPanicWithoutBus(t *testing.T) {
	reporter := NewReporter(zap.NewNop(), nil)
	require.NotPanics(t, func() {
		reporter.ReportError("s1", errors.New("boom"))
	})
}

func TestReporterReportRiskLimitDoesNotPanicWithoutBus(t *testing.T) {
	reporter := NewReporter(zap.NewNop(), nil)
	require.NotPanics(t, func() {
		reporter.ReportRiskLimit("s1", risk.ValidationOutcome{Result: risk.ResultRiskLimitBreached, Reason: "too big"})
	})
}

func TestReporterCustomEventTagsEventName(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer bus.Close()
	reporter := NewReporter(zap.NewNop(), bus)

	var mu sync.Mutex
	var got *Event
	bus.Subscribe(EventCustom, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		ev := e
		got = &ev
	})

	reporter.ReportCustom("significant_drawdown", map[string]string{"strategy_id": "s1", "drawdown_pct": "0.12"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "significant_drawdown", got.Fields["event"])
	require.Equal(t, "s1", got.StrategyID)
}
