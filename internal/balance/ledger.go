// Package balance implements BalanceLedger from spec.md 4.6: periodic
// refresh, soft process-local locks, available-funds query. Grounded on
// execution_service.go's CheckBalance (the teacher's own pre-trade balance
// gate) generalized from a single Binance futures account to the
// multi-venue, multi-currency ledger the spec requires.
package balance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// Fetcher is implemented per venue (wraps its REST fetchBalance()).
type Fetcher interface {
	Venue() model.Venue
	FetchBalances(ctx context.Context) ([]model.Balance, error)
}

type Ledger struct {
	mu        sync.RWMutex
	fetchers  []Fetcher
	balances  map[string]model.Balance // key: venue:currency
	locks     map[string]model.FundsLock
	refreshEvery time.Duration
}

func New(fetchers []Fetcher, refreshEvery time.Duration) *Ledger {
	if refreshEvery <= 0 {
		refreshEvery = 30 * time.Second
	}
	return &Ledger{
		fetchers:     fetchers,
		balances:     make(map[string]model.Balance),
		locks:        make(map[string]model.FundsLock),
		refreshEvery: refreshEvery,
	}
}

// Run refreshes balances every refreshEvery until ctx is canceled. Call
// RefreshAll once synchronously before starting detectors so the first
// risk evaluations have real balances to check against.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RefreshAll(ctx)
		}
	}
}

func (l *Ledger) RefreshAll(ctx context.Context) {
	for _, f := range l.fetchers {
		bals, err := f.FetchBalances(ctx)
		if err != nil {
			log.Printf("⚠️ balance: refresh %s failed: %v", f.Venue(), err)
			continue
		}
		l.mu.Lock()
		for _, b := range bals {
			l.balances[model.BalanceKey(b.Venue, b.Currency)] = b
		}
		l.mu.Unlock()
	}
}

// Available returns free minus the sum of active locks for this key.
func (l *Ledger) Available(venue model.Venue, currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := model.BalanceKey(venue, currency)
	b, ok := l.balances[key]
	if !ok {
		return decimal.Zero
	}
	locked := decimal.Zero
	for _, lk := range l.locks {
		if lk.Venue == venue && lk.Currency == currency {
			locked = locked.Add(lk.Amount)
		}
	}
	avail := b.Free.Sub(locked)
	if avail.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return avail
}

func (l *Ledger) HasAvailable(venue model.Venue, currency string, amount decimal.Decimal) bool {
	return l.Available(venue, currency).GreaterThanOrEqual(amount)
}

var ErrInsufficientFunds = fmt.Errorf("balance: insufficient available funds")

// Lock succeeds iff available(venue,currency) >= amount.
func (l *Ledger) Lock(tradeID string, venue model.Venue, currency string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.BalanceKey(venue, currency)
	b, ok := l.balances[key]
	if !ok {
		return ErrInsufficientFunds
	}
	locked := decimal.Zero
	for _, lk := range l.locks {
		if lk.Venue == venue && lk.Currency == currency {
			locked = locked.Add(lk.Amount)
		}
	}
	if b.Free.Sub(locked).LessThan(amount) {
		return ErrInsufficientFunds
	}

	l.locks[lockKey(tradeID, venue, currency)] = model.FundsLock{
		TradeID: tradeID, Venue: venue, Currency: currency, Amount: amount,
	}
	return nil
}

// Unlock is idempotent.
func (l *Ledger) Unlock(tradeID string, venue model.Venue, currency string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockKey(tradeID, venue, currency))
}

func lockKey(tradeID string, venue model.Venue, currency string) string {
	return tradeID + "|" + string(venue) + "|" + currency
}

func (l *Ledger) Snapshot() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.balances))
	for k, b := range l.balances {
		out[k] = b.Free
	}
	return out
}
