package triangular

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/book"
	"whale-radar/internal/model"
)

type fakeTicks struct {
	ticks map[string]model.PriceTick
}

func tickKey(v model.Venue, s model.Symbol) string { return string(v) + "|" + s.String() }

func (f *fakeTicks) set(v model.Venue, s model.Symbol, last, bid, ask decimal.Decimal, ts time.Time) {
	if f.ticks == nil {
		f.ticks = make(map[string]model.PriceTick)
	}
	f.ticks[tickKey(v, s)] = model.PriceTick{Venue: v, Symbol: s, Last: last, Bid: bid, Ask: ask, Timestamp: ts}
}

func (f *fakeTicks) FreshTick(venue model.Venue, symbol model.Symbol, now time.Time, ttl time.Duration) (model.PriceTick, bool) {
	t, ok := f.ticks[tickKey(venue, symbol)]
	if !ok || t.StaleAfter(now, ttl) {
		return model.PriceTick{}, false
	}
	return t, true
}

type emptyBooks struct{}

func (emptyBooks) Book(venue model.Venue, symbol model.Symbol) *book.Replica {
	return book.NewReplica(venue, symbol)
}

func profitablePath() Path {
	return Path{
		Venue: model.VenueBinance,
		Legs: [3]model.Symbol{
			model.NewSymbol("BTC", "USDT"),
			model.NewSymbol("ETH", "BTC"),
			model.NewSymbol("ETH", "USDT"),
		},
		Directions: [3]model.Direction{model.DirBuy, model.DirBuy, model.DirSell},
		MinAmount:  decimal.NewFromInt(1000),
	}
}

func seedProfitableTicks(ticks *fakeTicks, now time.Time) {
	ticks.set(model.VenueBinance, model.NewSymbol("BTC", "USDT"),
		decimal.NewFromInt(100), decimal.NewFromFloat(99.9), decimal.NewFromInt(100), now)
	ticks.set(model.VenueBinance, model.NewSymbol("ETH", "BTC"),
		decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.0499), decimal.NewFromFloat(0.05), now)
	ticks.set(model.VenueBinance, model.NewSymbol("ETH", "USDT"),
		decimal.NewFromFloat(5.3), decimal.NewFromFloat(5.3), decimal.NewFromFloat(5.31), now)
}

func TestEvaluateFindsProfitableCycle(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ticks := &fakeTicks{}
	seedProfitableTicks(ticks, now)

	d := New(DefaultConfig(), []Path{profitablePath()}, ticks, emptyBooks{})
	var got model.TriangularOpportunity
	d.Found = func(o model.TriangularOpportunity) { got = o }

	d.OnTick(model.PriceTick{Venue: model.VenueBinance, Symbol: model.NewSymbol("BTC", "USDT"), Timestamp: now})

	if got.ID == "" {
		t.Fatal("expected Found to fire for a profitable triangular cycle")
	}
	if !got.Profit().GreaterThan(decimal.Zero) {
		t.Errorf("profit = %s, want > 0", got.Profit())
	}
}

func TestEvaluateSkipsWhenCycleIsUnprofitable(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ticks := &fakeTicks{}
	// Flat round-trip: fees alone make this a loss.
	ticks.set(model.VenueBinance, model.NewSymbol("BTC", "USDT"),
		decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100), now)
	ticks.set(model.VenueBinance, model.NewSymbol("ETH", "BTC"),
		decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.05), now)
	ticks.set(model.VenueBinance, model.NewSymbol("ETH", "USDT"),
		decimal.NewFromInt(5), decimal.NewFromInt(5), decimal.NewFromInt(5), now)

	d := New(DefaultConfig(), []Path{profitablePath()}, ticks, emptyBooks{})
	fired := false
	d.Found = func(model.TriangularOpportunity) { fired = true }

	d.OnTick(model.PriceTick{Venue: model.VenueBinance, Symbol: model.NewSymbol("BTC", "USDT"), Timestamp: now})

	if fired {
		t.Error("should not fire when the round trip nets a loss after fees")
	}
}

func TestOnTickIgnoresPathsOnOtherVenues(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ticks := &fakeTicks{}
	seedProfitableTicks(ticks, now)

	d := New(DefaultConfig(), []Path{profitablePath()}, ticks, emptyBooks{})
	fired := false
	d.Found = func(model.TriangularOpportunity) { fired = true }

	d.OnTick(model.PriceTick{Venue: model.VenueKraken, Symbol: model.NewSymbol("BTC", "USDT"), Timestamp: now})

	if fired {
		t.Error("a tick from an unrelated venue should not trigger this path")
	}
}

func TestOnTickThrottlesRepeatedEvaluation(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ticks := &fakeTicks{}
	seedProfitableTicks(ticks, now)

	d := New(DefaultConfig(), []Path{profitablePath()}, ticks, emptyBooks{})
	calls := 0
	d.Found = func(model.TriangularOpportunity) { calls++ }

	tick := model.PriceTick{Venue: model.VenueBinance, Symbol: model.NewSymbol("BTC", "USDT"), Timestamp: now}
	d.OnTick(tick)
	d.OnTick(tick) // within ThrottlePerPath (100ms), should be skipped

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second tick within the throttle window should be skipped)", calls)
	}
}
