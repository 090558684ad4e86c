// Package book implements the depth-keyed order-book replica kept per
// (venue, symbol), with the snapshot/delta consistency rules spec'd per
// venue family. Grounded on the teacher's own per-venue book handling in
// main.go (BinanceFutures/BybitV5/OKXFutures/KrakenFutures each keep a
// bids/asks map and apply deltas by update-id), generalized into one
// venue-agnostic replica plus a reconciliation function parameterized by
// the venue's protocol family.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// Replica is the bid/ask ladder for one (venue, symbol). All level changes
// go through ApplySnapshot/ApplyDelta, which drop zero-size levels. A
// crossed book is not rejected there; TopOfBook reports it as not OK.
type Replica struct {
	mu            sync.RWMutex
	Venue         model.Venue
	Symbol        model.Symbol
	bids          map[string]decimal.Decimal // price string -> size, keyed by canonical string to avoid float/decimal key drift
	asks          map[string]decimal.Decimal
	lastUpdateID  int64
	lastEventTime time.Time
	initialized   bool
}

func NewReplica(venue model.Venue, symbol model.Symbol) *Replica {
	return &Replica{
		Venue:  venue,
		Symbol: symbol,
		bids:   make(map[string]decimal.Decimal),
		asks:   make(map[string]decimal.Decimal),
	}
}

// Level is one price/size pair of a snapshot or delta payload.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Snapshot fully replaces the replica's state, both sides.
type Snapshot struct {
	Bids         []Level
	Asks         []Level
	LastUpdateID int64
	EventTime    time.Time
}

// Delta carries incremental level changes in update-id order.
type Delta struct {
	Bids             []Level
	Asks             []Level
	FirstNewUpdateID int64
	LastNewUpdateID  int64
	EventTime        time.Time
}

var ErrCrossedBook = fmt.Errorf("book: crossed")

// ApplySnapshot replaces the replica entirely and arms gap detection from
// this point onward.
func (r *Replica) ApplySnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = make(map[string]decimal.Decimal, len(s.Bids))
	r.asks = make(map[string]decimal.Decimal, len(s.Asks))
	for _, l := range s.Bids {
		if l.Size.IsZero() {
			continue
		}
		r.bids[l.Price.String()] = l.Size
	}
	for _, l := range s.Asks {
		if l.Size.IsZero() {
			continue
		}
		r.asks[l.Price.String()] = l.Size
	}
	r.lastUpdateID = s.LastUpdateID
	r.lastEventTime = s.EventTime
	r.initialized = true
}

// ErrGap is returned by ApplyDelta when the update-id sequence does not
// chain cleanly off the replica's current lastUpdateID; the caller must
// discard this replica and re-snapshot.
var ErrGap = fmt.Errorf("book: update-id gap, re-snapshot required")

// ApplyDelta applies one incremental update. It enforces
// delta.FirstNewUpdateID == lastUpdateID + 1; any gap returns ErrGap and
// leaves the replica uninitialized so callers stop using it for detection
// until a fresh snapshot lands.
func (r *Replica) ApplyDelta(d Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("book: delta received before snapshot")
	}
	if d.FirstNewUpdateID != r.lastUpdateID+1 {
		r.initialized = false
		return ErrGap
	}

	for _, l := range d.Bids {
		applyLevel(r.bids, l)
	}
	for _, l := range d.Asks {
		applyLevel(r.asks, l)
	}
	r.lastUpdateID = d.LastNewUpdateID
	r.lastEventTime = d.EventTime
	return nil
}

func applyLevel(side map[string]decimal.Decimal, l Level) {
	key := l.Price.String()
	if l.Size.IsZero() {
		delete(side, key)
		return
	}
	side[key] = l.Size
}

// SeedFirstDelta primes lastUpdateID so the first WS delta retained after
// a snapshot — which only has to satisfy Binance's range rule
// (firstUpdateID ≤ lastUpdateID+1 ≤ lastUpdateID of the delta) rather than
// ApplyDelta's strict chaining rule — is accepted instead of rejected as
// a gap. Callers must have already checked the range rule themselves;
// this only exists to let that one delta through, not to skip the check.
func (r *Replica) SeedFirstDelta(beforeFirstNewUpdateID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUpdateID = beforeFirstNewUpdateID
}

// Invalidate drops all state, forcing the next read to be treated as
// uninitialized (used on BookInvalidate / gap / disconnect).
func (r *Replica) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bids = make(map[string]decimal.Decimal)
	r.asks = make(map[string]decimal.Decimal)
	r.initialized = false
}

func (r *Replica) LastEventTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventTime
}

func (r *Replica) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// StaleAfter reports whether the replica hasn't been touched within ttl.
func (r *Replica) StaleAfter(now time.Time, ttl time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return true
	}
	return now.Sub(r.lastEventTime) > ttl
}

// sortedLevels returns price-sorted (descending for bids, ascending for
// asks) decimal levels, parsed once per call. Book sizes in this system
// are small (≤1000 levels), so this linear parse+sort is not a hot path
// concern at the adapter's own throttle interval.
func sortedLevels(side map[string]decimal.Decimal, descending bool) []Level {
	out := make([]Level, 0, len(side))
	for k, size := range side {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		out = append(out, Level{Price: p, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// TopOfBook is the best bid/ask read surface. No best pointers are
// maintained: each call sorts both sides, O(n log n) in the level count.
type TopOfBook struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	BidQty decimal.Decimal
	AskQty decimal.Decimal
	OK     bool
}

func (r *Replica) TopOfBook() TopOfBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return TopOfBook{}
	}
	bids := sortedLevels(r.bids, true)
	asks := sortedLevels(r.asks, false)
	if len(bids) == 0 || len(asks) == 0 {
		return TopOfBook{}
	}
	if bids[0].Price.GreaterThan(asks[0].Price) {
		// Crossed book: momentarily invalid, must not be used for detection.
		return TopOfBook{}
	}
	return TopOfBook{Bid: bids[0].Price, Ask: asks[0].Price, BidQty: bids[0].Size, AskQty: asks[0].Size, OK: true}
}

// WalkResult is what walkDepth returns.
type WalkResult struct {
	EffectivePrice decimal.Decimal
	Filled         decimal.Decimal
	Feasible       bool
}

// WalkDepth consumes levels from the best inward on the given side,
// returning the size-weighted effective price for baseAmount units.
// side=ASK walks asks (a buy), side=BID walks bids (a sell).
func (r *Replica) WalkDepth(side model.Side, baseAmount decimal.Decimal) WalkResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized || baseAmount.IsZero() {
		return WalkResult{Feasible: false}
	}

	var levels []Level
	if side == model.SideAsk {
		levels = sortedLevels(r.asks, false)
	} else {
		levels = sortedLevels(r.bids, true)
	}
	if len(levels) == 0 {
		return WalkResult{Feasible: false}
	}

	remaining := baseAmount
	cost := decimal.Zero // in quote currency
	filled := decimal.Zero

	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := lvl.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost = cost.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return WalkResult{Filled: filled, Feasible: false}
	}

	return WalkResult{
		EffectivePrice: cost.Div(filled),
		Filled:         filled,
		Feasible:       true,
	}
}

// TotalVolume sums size across every level on one side, in base units.
func (r *Replica) TotalVolume(side model.Side) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	m := r.asks
	if side == model.SideBid {
		m = r.bids
	}
	for _, sz := range m {
		total = total.Add(sz)
	}
	return total
}
