// Package executor drives the strategy cycle loop: pull market data, fan
// signals out through each strategy, and run them through the gate chain
// that validates, sizes, and dispatches.
package executor

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionMode selects which venue surface a request targets.
type ExecutionMode string

const (
	ModeLive    ExecutionMode = "live"
	ModePaper   ExecutionMode = "paper"
	ModeSandbox ExecutionMode = "sandbox"
)

// ExecutionStatus is the outcome reported by an ExecutionService.
type ExecutionStatus string

const (
	StatusCompleted       ExecutionStatus = "completed"
	StatusPartiallyFilled ExecutionStatus = "partially_filled"
	StatusRejected        ExecutionStatus = "rejected"
	StatusFailed          ExecutionStatus = "failed"
	StatusOverloaded      ExecutionStatus = "overloaded"
)

// ExecutionRequest carries a validated, sized signal to an ExecutionService.
type ExecutionRequest struct {
	ID         string
	Signal     *signal.Signal
	Mode       ExecutionMode
	Parameters map[string]decimal.Decimal
}

// NewExecutionRequest builds a request with a fresh ID.
func NewExecutionRequest(sig *signal.Signal, mode ExecutionMode) *ExecutionRequest {
	return &ExecutionRequest{
		ID:         uuid.NewString(),
		Signal:     sig,
		Mode:       mode,
		Parameters: make(map[string]decimal.Decimal),
	}
}

// ExecutionResult is the outcome of dispatching one ExecutionRequest. Every
// gate in the cycle's pass over a strategy — whether it ever reaches
// ExecutionService or is rejected earlier (health, trust, governance, risk
// validation) — produces one of these, so callers observe a uniform result
// stream per spec's propagation contract.
type ExecutionResult struct {
	RequestID      string
	StrategyID     string
	Status         ExecutionStatus
	ExecutedQty    decimal.Decimal
	AveragePrice   decimal.Decimal
	RealizedPnL    decimal.Decimal
	Latency        time.Duration
	ErrorMessage   string
	AdditionalData map[string]string
}

// Success reports whether the result represents a filled execution.
func (r ExecutionResult) Success() bool {
	return r.Status == StatusCompleted || r.Status == StatusPartiallyFilled
}

// NewRejectionResult builds a synthetic ExecutionResult for a gate that
// rejected or dropped a pass before (or without) ever reaching
// ExecutionService — e.g. the health, trust, governance, or risk-validation
// gates. gate identifies which stage produced it; code and reason mirror
// the same values reported to telemetry.
func NewRejectionResult(strategyID, gate, code, reason string) *ExecutionResult {
	return &ExecutionResult{
		StrategyID:   strategyID,
		Status:       StatusRejected,
		ErrorMessage: reason,
		AdditionalData: map[string]string{
			"gate": gate,
			"code": code,
		},
	}
}

// ToResultRef narrows an ExecutionResult to the signal package's terminal
// outcome shape, handed to Strategy.OnSignalExecuted.
func (r ExecutionResult) ToResultRef() signal.ExecutionResultRef {
	return signal.ExecutionResultRef{
		Status:       string(r.Status),
		ExecutedQty:  r.ExecutedQty,
		AveragePrice: r.AveragePrice,
		RealizedPnL:  r.RealizedPnL,
		Latency:      r.Latency,
		ErrorMessage: r.ErrorMessage,
	}
}

// ExecutionService dispatches validated, sized signals to a venue. Concrete
// venue adapters are out of scope; callers supply an implementation.
type ExecutionService interface {
	Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error)
}

// PaperExecutionService fills every request immediately at the signal's
// price with simulated slippage and commission.
type PaperExecutionService struct {
	SlippageBps   int64
	CommissionBps int64
}

// NewPaperExecutionService returns a PaperExecutionService with teacher
// defaults (5bps slippage, 10bps commission).
func NewPaperExecutionService() *PaperExecutionService {
	return &PaperExecutionService{SlippageBps: 5, CommissionBps: 10}
}

func (p *PaperExecutionService) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	start := time.Now()
	sig := req.Signal

	slippage := decimal.NewFromInt(p.SlippageBps).Div(decimal.NewFromInt(10000))
	fillPrice := sig.Price
	if sig.Direction == signal.DirectionLong {
		fillPrice = sig.Price.Mul(decimal.NewFromInt(1).Add(slippage))
	} else if sig.Direction == signal.DirectionShort {
		fillPrice = sig.Price.Mul(decimal.NewFromInt(1).Sub(slippage))
	}

	commissionRate := decimal.NewFromInt(p.CommissionBps).Div(decimal.NewFromInt(10000))
	commission := sig.Quantity.Mul(fillPrice).Mul(commissionRate)

	return &ExecutionResult{
		RequestID:    req.ID,
		Status:       StatusCompleted,
		ExecutedQty:  sig.Quantity,
		AveragePrice: fillPrice,
		RealizedPnL:  commission.Neg(),
		Latency:      time.Since(start),
	}, nil
}
