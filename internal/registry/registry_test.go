package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

func TestStoreTickAndFreshTick(t *testing.T) {
	t.Parallel()
	r := New()
	sym := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	r.StoreTick(model.PriceTick{Venue: model.VenueBinance, Symbol: sym, Last: decimal.NewFromInt(100), Timestamp: now})

	tick, ok := r.Tick(model.VenueBinance, sym)
	if !ok {
		t.Fatal("expected a tick to be stored")
	}
	if !tick.Last.Equal(decimal.NewFromInt(100)) {
		t.Errorf("tick.Last = %s, want 100", tick.Last)
	}

	if _, ok := r.FreshTick(model.VenueBinance, sym, now.Add(time.Second), time.Minute); !ok {
		t.Error("tick should still be fresh within ttl")
	}
	if _, ok := r.FreshTick(model.VenueBinance, sym, now.Add(time.Hour), time.Minute); ok {
		t.Error("tick should be stale once past ttl")
	}
}

func TestTickMissingKeyReturnsFalse(t *testing.T) {
	t.Parallel()
	r := New()
	if _, ok := r.Tick(model.VenueKraken, model.NewSymbol("ETH", "USDT")); ok {
		t.Error("expected no tick for an unseen key")
	}
}

func TestBookIsCreatedOnceAndReused(t *testing.T) {
	t.Parallel()
	r := New()
	sym := model.NewSymbol("BTC", "USDT")

	b1 := r.Book(model.VenueBinance, sym)
	b2 := r.Book(model.VenueBinance, sym)
	if b1 != b2 {
		t.Error("Book should return the same replica instance for the same key")
	}

	b3 := r.Book(model.VenueCoinbase, sym)
	if b3 == b1 {
		t.Error("Book should return distinct replicas for distinct venues")
	}
}

func TestVenuesForSymbol(t *testing.T) {
	t.Parallel()
	r := New()
	btc := model.NewSymbol("BTC", "USDT")
	eth := model.NewSymbol("ETH", "USDT")
	now := time.Now()

	r.StoreTick(model.PriceTick{Venue: model.VenueBinance, Symbol: btc, Timestamp: now})
	r.StoreTick(model.PriceTick{Venue: model.VenueCoinbase, Symbol: btc, Timestamp: now})
	r.StoreTick(model.PriceTick{Venue: model.VenueKraken, Symbol: eth, Timestamp: now})

	venues := r.VenuesForSymbol(btc)
	if len(venues) != 2 {
		t.Errorf("VenuesForSymbol(btc) returned %d venues, want 2", len(venues))
	}
}

func TestOnTickCallbackFiresAfterStore(t *testing.T) {
	t.Parallel()
	r := New()
	sym := model.NewSymbol("BTC", "USDT")

	var gotVenue model.Venue
	r.OnTick = func(t model.PriceTick) { gotVenue = t.Venue }

	r.StoreTick(model.PriceTick{Venue: model.VenueBybit, Symbol: sym, Timestamp: time.Now()})

	if gotVenue != model.VenueBybit {
		t.Errorf("OnTick saw venue %q, want %q", gotVenue, model.VenueBybit)
	}
	if _, ok := r.Tick(model.VenueBybit, sym); !ok {
		t.Error("tick should already be stored by the time OnTick fires")
	}
}
