package telemetry

import (
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"go.uber.org/zap"
)

// Reporter implements internal/executor.Reporter: every gate-chain outcome
// becomes a structured zap log line, a Prometheus metric update, and an
// Event published on the bus for WebSocket subscribers.
type Reporter struct {
	logger *zap.Logger
	bus    *EventBus
}

// NewReporter constructs a Reporter backed by the package Registry and the
// given event bus. Pass a nil bus to disable WebSocket fan-out while
// keeping logs and metrics.
func NewReporter(logger *zap.Logger, bus *EventBus) *Reporter {
	return &Reporter{logger: logger.Named("telemetry"), bus: bus}
}

func (r *Reporter) publish(kind EventKind, strategyID string, fields map[string]string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(Event{Kind: kind, StrategyID: strategyID, Fields: fields})
}

func (r *Reporter) ReportExecutionStart(strategyID string) {
	cyclesStarted.WithLabelValues(strategyID).Inc()
	r.logger.Debug("execution start", zap.String("strategy", strategyID))
	r.publish(EventExecutionStart, strategyID, nil)
}

func (r *Reporter) ReportExecutionComplete(strategyID string, result executor.ExecutionResult) {
	status := string(result.Status)
	executionsTotal.WithLabelValues(strategyID, status).Inc()
	executionLatency.WithLabelValues(strategyID).Observe(result.Latency.Seconds())
	realizedPnL.WithLabelValues(strategyID).Set(result.RealizedPnL.InexactFloat64())

	r.logger.Info("execution complete",
		zap.String("strategy", strategyID),
		zap.String("status", status),
		zap.String("realized_pnl", result.RealizedPnL.String()),
		zap.Duration("latency", result.Latency))

	r.publish(EventExecutionComplete, strategyID, map[string]string{
		"status":       status,
		"realized_pnl": result.RealizedPnL.String(),
		"latency_ms":   fmt.Sprintf("%d", result.Latency.Milliseconds()),
	})
}

func (r *Reporter) ReportNoSignal(strategyID string) {
	noSignalTotal.WithLabelValues(strategyID).Inc()
	r.publish(EventNoSignal, strategyID, nil)
}

func (r *Reporter) ReportError(strategyID string, err error) {
	errorsTotal.WithLabelValues(strategyID).Inc()
	r.logger.Warn("strategy error", zap.String("strategy", strategyID), zap.Error(err))
	r.publish(EventError, strategyID, map[string]string{"error": err.Error()})
}

func (r *Reporter) ReportRiskLimit(strategyID string, outcome risk.ValidationOutcome) {
	riskRejectionsTotal.WithLabelValues(strategyID, string(outcome.Result)).Inc()
	r.logger.Info("risk limit",
		zap.String("strategy", strategyID),
		zap.String("result", string(outcome.Result)),
		zap.String("reason", outcome.Reason))
	r.publish(EventRiskLimit, strategyID, map[string]string{
		"result": string(outcome.Result),
		"reason": outcome.Reason,
		"code":   outcome.Code,
	})
}

func (r *Reporter) ReportTrustUpdate(strategyID string, trustScoreVal float64, consecutiveLossesVal int, active bool) {
	trustScore.WithLabelValues(strategyID).Set(trustScoreVal)
	consecutiveLosses.WithLabelValues(strategyID).Set(float64(consecutiveLossesVal))
	activeVal := 0.0
	if active {
		activeVal = 1.0
	}
	strategyActive.WithLabelValues(strategyID).Set(activeVal)

	r.publish(EventTrustUpdate, strategyID, map[string]string{
		"trust_score":        fmt.Sprintf("%.4f", trustScoreVal),
		"consecutive_losses": fmt.Sprintf("%d", consecutiveLossesVal),
		"active":             fmt.Sprintf("%t", active),
	})
}

func (r *Reporter) ReportTrustRejection(strategyID string, score, threshold float64) {
	trustRejectionsTotal.WithLabelValues(strategyID).Inc()
	r.logger.Info("trust rejection",
		zap.String("strategy", strategyID),
		zap.Float64("score", score),
		zap.Float64("threshold", threshold))
	r.publish(EventTrustRejection, strategyID, map[string]string{
		"score":     fmt.Sprintf("%.4f", score),
		"threshold": fmt.Sprintf("%.4f", threshold),
	})
}

func (r *Reporter) EmitSoftWarning(strategyID string, score float64, message string) {
	softWarningsTotal.WithLabelValues(strategyID).Inc()
	r.logger.Warn("soft trust warning", zap.String("strategy", strategyID), zap.Float64("score", score), zap.String("message", message))
	r.publish(EventSoftWarning, strategyID, map[string]string{
		"score":   fmt.Sprintf("%.4f", score),
		"message": message,
	})
}

func (r *Reporter) ReportCustom(eventName string, fields map[string]string) {
	customEventsTotal.WithLabelValues(eventName).Inc()
	logFields := make([]zap.Field, 0, len(fields)+1)
	logFields = append(logFields, zap.String("event", eventName))
	for k, v := range fields {
		logFields = append(logFields, zap.String(k, v))
	}
	r.logger.Info("custom telemetry event", logFields...)

	strategyID := fields["strategy_id"]
	withEvent := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		withEvent[k] = v
	}
	withEvent["event"] = eventName
	r.publish(EventCustom, strategyID, withEvent)
}
