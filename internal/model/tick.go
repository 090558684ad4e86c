package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is emitted on every ticker message and replaces the prior tick
// for the same (venue, symbol). Money fields are decimal per the mandate
// that all detection/slippage/profit math stays fixed-point.
type PriceTick struct {
	Venue     Venue
	Symbol    Symbol
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// StaleAfter reports whether this tick is older than ttl relative to now.
func (t PriceTick) StaleAfter(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.Timestamp) > ttl
}

// BookInvalidate signals a venue/symbol whose local book must be dropped
// and re-synced (gap detected, or the connection to the venue was lost).
type BookInvalidate struct {
	Venue  Venue
	Symbol Symbol
	Reason string
}

// ConnectionLost is emitted once an adapter exhausts its reconnect budget.
type ConnectionLost struct {
	Venue Venue
	Err   error
}
