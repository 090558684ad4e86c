package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance mirrors one venue/currency entry from fetchBalance(). free must
// always be >= the sum of active locks for the same key; BalanceLedger is
// the only component allowed to violate that transiently (it rejects the
// lock that would break it).
type Balance struct {
	Venue      Venue
	Currency   string
	Free       decimal.Decimal
	Used       decimal.Decimal
	Total      decimal.Decimal
	LastUpdate time.Time
}

// FundsLock is a process-local soft reservation held for the duration of a
// trade attempt. It does not reserve anything at the venue itself.
type FundsLock struct {
	TradeID  string
	Venue    Venue
	Currency string
	Amount   decimal.Decimal
}

func BalanceKey(v Venue, currency string) string {
	return string(v) + ":" + currency
}

// RiskLedger is the daily counters + sticky flags RiskManager reads and
// mutates. Resets atomically on UTC date change.
type RiskLedger struct {
	DailyTrades          int
	DailyLoss            decimal.Decimal
	ActiveTradesByKind    map[TradeKind]int
	LastResetDate        string // YYYY-MM-DD, UTC
	EmergencyStop        bool
	BlacklistedSymbols   map[string]bool
	BlacklistedVenues    map[Venue]bool
}

func NewRiskLedger() *RiskLedger {
	return &RiskLedger{
		DailyLoss:           decimal.Zero,
		ActiveTradesByKind:  make(map[TradeKind]int),
		BlacklistedSymbols:  make(map[string]bool),
		BlacklistedVenues:   make(map[Venue]bool),
	}
}
