// Package signal defines the Signal data model and its status state machine.
package signal

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/market"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the trading action a signal proposes.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// Direction is the directional bias of a signal.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// RiskGrade classifies how aggressive a signal's risk profile is.
type RiskGrade string

const (
	RiskGradeLow         RiskGrade = "low"
	RiskGradeMedium      RiskGrade = "medium"
	RiskGradeHigh        RiskGrade = "high"
	RiskGradeExceptional RiskGrade = "exceptional"
)

// ExecutionHorizon is the intended execution timeframe.
type ExecutionHorizon string

const (
	HorizonImmediate  ExecutionHorizon = "immediate"
	HorizonShortTerm  ExecutionHorizon = "short_term"
	HorizonMediumTerm ExecutionHorizon = "medium_term"
	HorizonLongTerm   ExecutionHorizon = "long_term"
)

// Status is a node in the signal lifecycle state machine.
type Status string

const (
	StatusCreated                 Status = "created"
	StatusValidated               Status = "validated"
	StatusReadyForExecution       Status = "ready_for_execution"
	StatusInProgress              Status = "in_progress"
	StatusExecuted                Status = "executed"
	StatusRejected                Status = "rejected"
	StatusTrustBlocked             Status = "trust_blocked"
	StatusAwaitingMarketConditions Status = "awaiting_market_conditions"
	StatusFailed                  Status = "failed"
	StatusExpired                 Status = "expired"
)

// TelemetryCode returns the canonical event code for a status, e.g. "SIG-TRUST-BLOCK".
func (s Status) TelemetryCode() string {
	switch s {
	case StatusCreated:
		return "SIG-CREATED"
	case StatusValidated:
		return "SIG-VALIDATED"
	case StatusReadyForExecution:
		return "SIG-READY"
	case StatusInProgress:
		return "SIG-IN-PROGRESS"
	case StatusExecuted:
		return "SIG-EXECUTED"
	case StatusRejected:
		return "SIG-REJECTED"
	case StatusTrustBlocked:
		return "SIG-TRUST-BLOCK"
	case StatusAwaitingMarketConditions:
		return "SIG-AWAITING-MARKET"
	case StatusFailed:
		return "SIG-FAILED"
	case StatusExpired:
		return "SIG-EXPIRED"
	default:
		return "SIG-UNKNOWN"
	}
}

// IsTerminal reports whether a status is a terminal state of the machine.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusTrustBlocked, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the signal lifecycle's state machine edges.
var validTransitions = map[Status][]Status{
	StatusCreated:           {StatusValidated, StatusRejected, StatusTrustBlocked, StatusFailed, StatusExpired},
	StatusValidated:         {StatusReadyForExecution, StatusRejected, StatusAwaitingMarketConditions, StatusFailed, StatusExpired},
	StatusReadyForExecution: {StatusInProgress, StatusFailed, StatusExpired},
	StatusInProgress:        {StatusExecuted, StatusFailed},
	StatusAwaitingMarketConditions: {StatusValidated, StatusReadyForExecution, StatusRejected, StatusExpired},
}

// ErrTerminalStatus is returned when a transition is attempted from a
// terminal state.
var ErrTerminalStatus = fmt.Errorf("signal: cannot transition out of a terminal status")

// ErrInvalidTransition is returned for an edge not in validTransitions.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("signal: invalid transition from %s to %s", e.From, e.To)
}

// ExecutionResultRef carries the terminal outcome once dispatched.
type ExecutionResultRef struct {
	Status          string
	ExecutedQty     decimal.Decimal
	AveragePrice    decimal.Decimal
	RealizedPnL     decimal.Decimal
	Latency         time.Duration
	ErrorMessage    string
}

// Signal is one instance of a strategy's trading proposal flowing through
// the gate chain.
type Signal struct {
	ID                 string
	StrategyID         string
	Symbol             market.Symbol
	Action             Action
	Direction          Direction
	Confidence         float64
	Strength           float64
	Price              decimal.Decimal
	Quantity           decimal.Decimal
	Timestamp          time.Time
	Expiration         *time.Time
	Metadata           map[string]string
	Status             Status
	ExecutionResult    *ExecutionResultRef
	TrustVector        map[string]float64
	SystemCode         string
	RiskGrade          RiskGrade
	ExecutionHorizon   ExecutionHorizon
	ExpectedSlippagePct float64
	FillConfidence      float64

	frozen bool
}

// New constructs a Signal in the Created state with confidence/strength
// clamped to [0,1].
func New(strategyID string, symbol market.Symbol, action Action, direction Direction) *Signal {
	return &Signal{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Symbol:     symbol,
		Action:     action,
		Direction:  direction,
		Timestamp:  time.Now(),
		Metadata:   make(map[string]string),
		Status:     StatusCreated,
	}
}

// SetConfidence clamps and sets the confidence score.
func (s *Signal) SetConfidence(c float64) { s.Confidence = clamp01(c) }

// SetStrength clamps and sets the strength score.
func (s *Signal) SetStrength(v float64) { s.Strength = clamp01(v) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Validate enforces the data-model invariants: an Enter signal must carry
// a price or be flagged as a market order in metadata.
func (s *Signal) Validate() error {
	if s.Action == ActionEnter {
		_, marketOrder := s.Metadata["market_order"]
		if s.Price.IsZero() && !marketOrder {
			return fmt.Errorf("signal %s: enter action requires a price or metadata[market_order]", s.ID)
		}
	}
	return nil
}

// Transition moves the signal to a new status, enforcing the state machine.
// Once a terminal state is reached, all fields are frozen and any further
// transition attempt fails.
func (s *Signal) Transition(to Status) error {
	if s.frozen {
		return ErrTerminalStatus
	}
	allowed := validTransitions[s.Status]
	ok := false
	for _, a := range allowed {
		if a == to {
			ok = true
			break
		}
	}
	if !ok {
		return &ErrInvalidTransition{From: s.Status, To: to}
	}
	s.Status = to
	if to.IsTerminal() {
		s.frozen = true
	}
	return nil
}

// IsExpired reports whether the signal's TTL has elapsed as of now.
func (s *Signal) IsExpired(now time.Time) bool {
	return s.Expiration != nil && now.After(*s.Expiration)
}

// ApplyDefaultTTL sets an expiration if none is set.
func (s *Signal) ApplyDefaultTTL(ttl time.Duration) {
	if s.Expiration == nil {
		exp := s.Timestamp.Add(ttl)
		s.Expiration = &exp
	}
}
