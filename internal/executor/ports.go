package executor

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/shopspring/decimal"
)

// Reporter is the telemetry surface the Executor reports cycle events to.
// Implemented by internal/telemetry; the Executor degrades to a no-op if
// none is supplied.
type Reporter interface {
	ReportExecutionStart(strategyID string)
	ReportExecutionComplete(strategyID string, result ExecutionResult)
	ReportNoSignal(strategyID string)
	ReportError(strategyID string, err error)
	ReportRiskLimit(strategyID string, outcome risk.ValidationOutcome)
	ReportTrustUpdate(strategyID string, trustScore float64, consecutiveLosses int, active bool)
	ReportTrustRejection(strategyID string, score, threshold float64)
	EmitSoftWarning(strategyID string, score float64, message string)
	ReportCustom(eventName string, fields map[string]string)
}

// noopReporter discards every event; used when no Reporter is configured.
type noopReporter struct{}

func (noopReporter) ReportExecutionStart(string)                     {}
func (noopReporter) ReportExecutionComplete(string, ExecutionResult) {}
func (noopReporter) ReportNoSignal(string)                           {}
func (noopReporter) ReportError(string, error)                       {}
func (noopReporter) ReportRiskLimit(string, risk.ValidationOutcome)  {}
func (noopReporter) ReportTrustUpdate(string, float64, int, bool)    {}
func (noopReporter) ReportTrustRejection(string, float64, float64)   {}
func (noopReporter) EmitSoftWarning(string, float64, string)         {}
func (noopReporter) ReportCustom(string, map[string]string)          {}

// DrawdownTracker is consulted after every dispatch to translate equity
// changes into a risk modifier. Implemented by internal/feedback.
type DrawdownTracker interface {
	UpdateEquity(ctx context.Context, strategyID string, equity decimal.Decimal) error
	RiskModifier(strategyID string) float64
	CurrentEquity(strategyID string) decimal.Decimal
	MaxEquity(strategyID string) decimal.Decimal
}

// Attribution is the four-component return decomposition returned by
// AttributionEngine.CalculateAttribution.
type Attribution struct {
	Timestamp             time.Time
	StrategyID            string
	SignalContribution    float64
	ExecutionContribution float64
	RiskContribution      float64
	RegimeContribution    float64
	TotalReturn           float64
}

// AttributionEngine decomposes a strategy's realized return into
// signal/execution/risk/regime components. Implemented by internal/feedback.
type AttributionEngine interface {
	RecordExecution(ctx context.Context, strategyID string, result ExecutionResult) error
	CalculateAttribution(ctx context.Context, strategyID string) (Attribution, error)
}

// FactorAlertType enumerates FactorAnalysisEngine's alert kinds.
type FactorAlertType string

const (
	FactorAlertLowRSquared              FactorAlertType = "low_r_squared"
	FactorAlertSingleFactorOverexposure FactorAlertType = "single_factor_overexposure"
	FactorAlertCombinedExposureHigh     FactorAlertType = "combined_exposure_high"
	FactorAlertFactorShift              FactorAlertType = "factor_shift"
)

// FactorAlert flags one factor-exposure condition worth a risk adjustment
// or telemetry note.
type FactorAlert struct {
	Type      FactorAlertType
	Factor    string
	Severity  float64
	Threshold float64
	Value     float64
}

// FactorProfile is one strategy's regression result against the configured
// factor basis.
type FactorProfile struct {
	Exposures map[string]float64
	RSquared  float64
	Alerts    []FactorAlert
}

// FactorAnalysisEngine regresses strategy returns against a factor basis.
// Implemented by internal/feedback.
type FactorAnalysisEngine interface {
	RecordReturn(ctx context.Context, strategyID string, at time.Time, ret float64) error
	AnalyzeExposures(ctx context.Context, strategyID string) (FactorProfile, error)
}

// GovernanceActionType enumerates the kinds of action GovernanceEnforcer
// rules are evaluated against.
type GovernanceActionType string

const (
	GovernanceActionExecute GovernanceActionType = "execute_strategy"
)

// GovernanceSeverity orders violations; Critical is checked first.
type GovernanceSeverity string

const (
	SeverityInfo     GovernanceSeverity = "info"
	SeverityWarning  GovernanceSeverity = "warning"
	SeverityCritical GovernanceSeverity = "critical"
)

// GovernanceViolation is one rule failure.
type GovernanceViolation struct {
	Code     string
	Reason   string
	Severity GovernanceSeverity
}

// EnforcementResult is GovernanceEnforcer.EnforceRules's return shape.
type EnforcementResult struct {
	Allowed    bool
	Violations []GovernanceViolation
}

// GovernanceEnforcer evaluates a policy rule set before a strategy is
// allowed to execute this cycle. Implemented by internal/feedback.
type GovernanceEnforcer interface {
	EnforceRules(ctx context.Context, strategyID string, action GovernanceActionType, context map[string]string) EnforcementResult
}
