// Package registry is the in-memory PriceRegistry: last ticks and the
// per-(venue,symbol) book replicas, with staleness checks for detector
// consumers. Grounded on main.go's CoinManager, which plays the same
// role for the teacher's whale-signal pipeline (one shared map of last
// state per symbol, read by many goroutines, written by one adapter each).
package registry

import (
	"sync"
	"time"

	"whale-radar/internal/book"
	"whale-radar/internal/model"
)

type key struct {
	venue  model.Venue
	symbol model.Symbol
}

// Registry is the single-writer-per-key, many-readers store shared by
// every ExchangeAdapter (writer) and both detectors (readers).
type Registry struct {
	mu     sync.RWMutex
	ticks  map[key]model.PriceTick
	books  map[key]*book.Replica

	// OnTick is invoked synchronously after a tick is stored, used to
	// trigger detector runs. Set once at wiring time in cmd/scanner.
	OnTick func(model.PriceTick)
}

func New() *Registry {
	return &Registry{
		ticks: make(map[key]model.PriceTick),
		books: make(map[key]*book.Replica),
	}
}

func (r *Registry) StoreTick(t model.PriceTick) {
	k := key{t.Venue, t.Symbol}
	r.mu.Lock()
	r.ticks[k] = t
	r.mu.Unlock()

	if r.OnTick != nil {
		r.OnTick(t)
	}
}

// Tick returns the last tick and whether one exists for this key.
func (r *Registry) Tick(venue model.Venue, symbol model.Symbol) (model.PriceTick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.ticks[key{venue, symbol}]
	return t, ok
}

// FreshTick returns the tick only if it exists and is not older than ttl.
func (r *Registry) FreshTick(venue model.Venue, symbol model.Symbol, now time.Time, ttl time.Duration) (model.PriceTick, bool) {
	t, ok := r.Tick(venue, symbol)
	if !ok || t.StaleAfter(now, ttl) {
		return model.PriceTick{}, false
	}
	return t, true
}

// Book returns (creating if necessary) the replica for this key. Adapters
// call this to get their single writer handle; detectors call it to read.
func (r *Registry) Book(venue model.Venue, symbol model.Symbol) *book.Replica {
	k := key{venue, symbol}

	r.mu.RLock()
	b, ok := r.books[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[k]; ok {
		return b
	}
	b = book.NewReplica(venue, symbol)
	r.books[k] = b
	return b
}

// VenuesForSymbol returns every venue that has stored a tick for symbol,
// used by the cross-venue detector to form venue pairs.
func (r *Registry) VenuesForSymbol(symbol model.Symbol) []model.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Venue
	for k := range r.ticks {
		if k.symbol == symbol {
			out = append(out, k.venue)
		}
	}
	return out
}
