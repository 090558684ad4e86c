// Package exchange defines the ExchangeAdapter contract and the shared
// reconnect-backoff policy every venue implementation uses. Grounded on
// main.go's per-venue adapter structs (BinanceFutures, BybitV5, OKXFutures,
// KrakenFutures, CoinbaseAdvanced), which each run their own dial-loop with
// a hand-rolled sleep-based backoff; here that loop is factored out once
// and backed by github.com/jpillora/backoff instead of bespoke sleeps.
package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"whale-radar/internal/model"
)

// Adapter is implemented once per venue.
type Adapter interface {
	Venue() model.Venue
	// Start opens the connection, subscribes to symbols (chunked if the
	// venue caps topics per frame) and begins emitting events until ctx
	// is canceled or the reconnect budget is exhausted.
	Start(ctx context.Context, symbols []model.Symbol) error
	// Stop closes gracefully, flushing any pending state.
	Stop()
}

// Events is the sink every adapter publishes normalized events to. A
// struct of channels rather than a pub/sub registry, per the design note
// that producers/consumers here are small and static.
type Events struct {
	Ticks        chan<- model.PriceTick
	Invalidate   chan<- model.BookInvalidate
	ConnLost     chan<- model.ConnectionLost
}

// ReconnectPolicy is the shared backoff shape: initial 5s, factor 2, capped
// attempts (5 by default, overridable per venue).
type ReconnectPolicy struct {
	MaxAttempts int
	b           *backoff.Backoff
}

func NewReconnectPolicy(maxAttempts int) *ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ReconnectPolicy{
		MaxAttempts: maxAttempts,
		b: &backoff.Backoff{
			Min:    5 * time.Second,
			Max:    5 * time.Second * (1 << 4), // factor 2 over 5 attempts caps at 80s
			Factor: 2,
			Jitter: false,
		},
	}
}

func (p *ReconnectPolicy) Reset() { p.b.Reset() }

// Run calls connect in a loop: on success it blocks inside connect until
// the connection drops, then (if ctx isn't done) backs off and retries.
// After MaxAttempts failed connect calls it returns the last error so the
// caller can emit ConnectionLost. The failure count is never reset, so
// drops after a successful connection count toward the same budget.
func (p *ReconnectPolicy) Run(ctx context.Context, connect func(ctx context.Context) error) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := connect(ctx)
		if err == nil {
			// connect returned cleanly (Stop() was called); no retry.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts >= p.MaxAttempts {
			return err
		}

		select {
		case <-time.After(p.b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
