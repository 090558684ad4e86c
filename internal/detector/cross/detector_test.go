package cross

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/book"
	"whale-radar/internal/model"
)

type fakeTicks struct {
	ticks  map[string]model.PriceTick
	venues []model.Venue
}

func tickKey(v model.Venue, s model.Symbol) string { return string(v) + "|" + s.String() }

func (f *fakeTicks) set(v model.Venue, s model.Symbol, last decimal.Decimal, ts time.Time) {
	if f.ticks == nil {
		f.ticks = make(map[string]model.PriceTick)
	}
	f.ticks[tickKey(v, s)] = model.PriceTick{Venue: v, Symbol: s, Last: last, Bid: last, Ask: last, Timestamp: ts}
}

func (f *fakeTicks) FreshTick(venue model.Venue, symbol model.Symbol, now time.Time, ttl time.Duration) (model.PriceTick, bool) {
	t, ok := f.ticks[tickKey(venue, symbol)]
	if !ok || t.StaleAfter(now, ttl) {
		return model.PriceTick{}, false
	}
	return t, true
}

func (f *fakeTicks) VenuesForSymbol(symbol model.Symbol) []model.Venue { return f.venues }

// emptyBooks always returns an uninitialized replica, forcing the detector
// down the estimator path instead of the full depth-walk path.
type emptyBooks struct{}

func (emptyBooks) Book(venue model.Venue, symbol model.Symbol) *book.Replica {
	return book.NewReplica(venue, symbol)
}

func TestOnTickEmitsOpportunityWhenSellExceedsBuy(t *testing.T) {
	t.Parallel()
	sym := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	ticks := &fakeTicks{venues: []model.Venue{model.VenueBinance, model.VenueCoinbase}}
	ticks.set(model.VenueBinance, sym, decimal.NewFromInt(100), now)
	ticks.set(model.VenueCoinbase, sym, decimal.NewFromInt(110), now)

	d := New(DefaultConfig(), ticks, emptyBooks{})

	var got model.ArbitrageOpportunity
	d.Found = func(o model.ArbitrageOpportunity) { got = o }

	d.OnTick(model.PriceTick{Venue: model.VenueBinance, Symbol: sym, Last: decimal.NewFromInt(100), Timestamp: now})

	if got.ID == "" {
		t.Fatal("expected Found to fire for a 10% cross-venue dislocation")
	}
	if got.BuyVenue != model.VenueBinance || got.SellVenue != model.VenueCoinbase {
		t.Errorf("got buy=%s sell=%s, want buy=binance sell=coinbase", got.BuyVenue, got.SellVenue)
	}
	if !got.NetProfit.GreaterThan(decimal.Zero) {
		t.Error("expected positive net profit")
	}
}

func TestOnTickSkipsWhenNoPriceDislocation(t *testing.T) {
	t.Parallel()
	sym := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	ticks := &fakeTicks{venues: []model.Venue{model.VenueBinance, model.VenueCoinbase}}
	ticks.set(model.VenueBinance, sym, decimal.NewFromInt(100), now)
	ticks.set(model.VenueCoinbase, sym, decimal.NewFromInt(100), now)

	d := New(DefaultConfig(), ticks, emptyBooks{})
	fired := false
	d.Found = func(model.ArbitrageOpportunity) { fired = true }

	d.OnTick(model.PriceTick{Venue: model.VenueBinance, Symbol: sym, Timestamp: now})

	if fired {
		t.Error("should not fire when there is no price dislocation")
	}
}

func TestRegisterDebouncesRepeatedEmission(t *testing.T) {
	t.Parallel()
	sym := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	d := New(DefaultConfig(), &fakeTicks{}, emptyBooks{})

	calls := 0
	d.Found = func(model.ArbitrageOpportunity) { calls++ }

	opp := model.ArbitrageOpportunity{
		ID: "1", Symbol: sym, BuyVenue: model.VenueBinance, SellVenue: model.VenueCoinbase,
		Confidence: 70, CreatedAt: now,
	}
	d.register(opp)

	opp2 := opp
	opp2.ID = "2"
	opp2.CreatedAt = now.Add(100 * time.Millisecond) // inside the 750ms debounce window
	opp2.Confidence = 80
	d.register(opp2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second emission should be debounced)", calls)
	}

	opp3 := opp
	opp3.ID = "3"
	opp3.CreatedAt = now.Add(800 * time.Millisecond) // past the debounce window
	opp3.Confidence = 90
	d.register(opp3)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (third emission is past the debounce window)", calls)
	}
}

func TestRegisterIgnoresLowerConfidenceReplacement(t *testing.T) {
	t.Parallel()
	sym := model.NewSymbol("BTC", "USDT")
	now := time.Now()

	d := New(DefaultConfig(), &fakeTicks{}, emptyBooks{})
	calls := 0
	d.Found = func(model.ArbitrageOpportunity) { calls++ }

	high := model.ArbitrageOpportunity{
		ID: "1", Symbol: sym, BuyVenue: model.VenueBinance, SellVenue: model.VenueCoinbase,
		Confidence: 90, CreatedAt: now,
	}
	d.register(high)

	lower := high
	lower.ID = "2"
	lower.Confidence = 60
	lower.CreatedAt = now.Add(2 * time.Second)
	d.register(lower)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (a lower-confidence replacement should not re-fire)", calls)
	}
	live := d.Live()
	if len(live) != 1 || live[0].ID != "1" {
		t.Error("the higher-confidence opportunity should remain the live one")
	}
}
