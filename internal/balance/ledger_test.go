package balance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

type fakeFetcher struct {
	venue model.Venue
	bals  []model.Balance
	err   error
}

func (f fakeFetcher) Venue() model.Venue { return f.venue }
func (f fakeFetcher) FetchBalances(ctx context.Context) ([]model.Balance, error) {
	return f.bals, f.err
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New([]Fetcher{fakeFetcher{
		venue: model.VenueBinance,
		bals: []model.Balance{
			{Venue: model.VenueBinance, Currency: "USDT", Free: decimal.NewFromInt(1000), Total: decimal.NewFromInt(1000)},
		},
	}}, time.Minute)
	l.RefreshAll(context.Background())
	return l
}

func TestRefreshAllPopulatesBalances(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if got := l.Available(model.VenueBinance, "USDT"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Available = %s, want 1000", got)
	}
}

func TestLockReducesAvailable(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.Lock("trade-1", model.VenueBinance, "USDT", decimal.NewFromInt(400)); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if got := l.Available(model.VenueBinance, "USDT"); !got.Equal(decimal.NewFromInt(600)) {
		t.Errorf("Available after lock = %s, want 600", got)
	}
}

func TestLockFailsWhenInsufficientFunds(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	err := l.Lock("trade-1", model.VenueBinance, "USDT", decimal.NewFromInt(5000))
	if err != ErrInsufficientFunds {
		t.Fatalf("Lock over-amount = %v, want ErrInsufficientFunds", err)
	}
}

func TestUnlockIsIdempotentAndRestoresAvailable(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.Lock("trade-1", model.VenueBinance, "USDT", decimal.NewFromInt(400)); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	l.Unlock("trade-1", model.VenueBinance, "USDT")
	l.Unlock("trade-1", model.VenueBinance, "USDT") // second call must not panic

	if got := l.Available(model.VenueBinance, "USDT"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Available after unlock = %s, want 1000", got)
	}
}

func TestHasAvailable(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if !l.HasAvailable(model.VenueBinance, "USDT", decimal.NewFromInt(1000)) {
		t.Error("HasAvailable(1000) should be true for a 1000 balance")
	}
	if l.HasAvailable(model.VenueBinance, "USDT", decimal.NewFromInt(1001)) {
		t.Error("HasAvailable(1001) should be false for a 1000 balance")
	}
}

func TestAvailableForUnknownKeyIsZero(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if got := l.Available(model.VenueKraken, "ETH"); !got.IsZero() {
		t.Errorf("Available for unseen key = %s, want 0", got)
	}
}
