package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind tags which orchestrator strategy owns a TradeAttempt — the
// tagged-variant approach the design notes call for instead of runtime
// type inspection.
type TradeKind string

const (
	KindCrossVenue TradeKind = "CROSS_VENUE"
	KindTriangular TradeKind = "TRIANGULAR"
)

// TradeStatus is the orchestrator state machine.
type TradeStatus string

const (
	StatusValidating TradeStatus = "VALIDATING"
	StatusApproved   TradeStatus = "APPROVED"
	StatusExecuting  TradeStatus = "EXECUTING"
	StatusMonitoring TradeStatus = "MONITORING"
	StatusCompleted  TradeStatus = "COMPLETED"
	StatusRejected   TradeStatus = "REJECTED"
	StatusFailed     TradeStatus = "FAILED"
	StatusPartial    TradeStatus = "PARTIAL"
	StatusRolledBack TradeStatus = "ROLLED_BACK"
)

func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed, StatusPartial, StatusRolledBack:
		return true
	}
	return false
}

// OrderRequest is what TradeOrchestrator hands to OrderExecutor.
type OrderRequest struct {
	Venue    Venue
	Symbol   Symbol
	Side     Direction
	Amount   decimal.Decimal
	Price    decimal.Decimal // zero for market orders
	IsMarket bool
}

// ExecutedOrder is the OrderExecutor's terminal (or polled) view of an order.
type ExecutedOrder struct {
	Venue        Venue
	Symbol       Symbol
	OrderID      string
	Side         Direction
	RequestedQty decimal.Decimal
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Fee          decimal.Decimal
	Status       string // "closed" | "canceled" | "rejected" | "open"
	SubmittedAt  time.Time
	TerminalAt   time.Time
}

func (o ExecutedOrder) IsTerminal() bool {
	return o.Status == "closed" || o.Status == "canceled" || o.Status == "rejected"
}

// TradeAttempt is the journal-facing record of one opportunity's execution.
type TradeAttempt struct {
	ID             string
	OpportunityID  string
	Kind           TradeKind
	Status         TradeStatus
	Orders         []ExecutedOrder
	PreState       map[string]decimal.Decimal // balances snapshot keyed "venue:currency"
	PostState      map[string]decimal.Decimal
	RealizedProfit decimal.Decimal
	Err            string
	StartedAt      time.Time
	EndedAt        time.Time
}

func (t TradeAttempt) ExecutionMs() int64 {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt).Milliseconds()
}
