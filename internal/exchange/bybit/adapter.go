// Package bybit implements the Venue B book protocol from spec.md 4.1: a
// "snapshot" message initializes state, "delta" messages update it, and a
// delta received before any snapshot is logged and discarded. Grounded on
// main.go's BybitV5 struct, which dials Bybit's public v5 WS endpoint
// directly with gorilla/websocket and switches on the "type" field of
// each orderbook topic frame.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"whale-radar/internal/book"
	"whale-radar/internal/exchange"
	"whale-radar/internal/model"
)

const wsURL = "wss://stream.bybit.com/v5/public/spot"

type bookKeeper interface {
	Book(venue model.Venue, symbol model.Symbol) *book.Replica
}

type Adapter struct {
	reg    bookKeeper
	events exchange.Events
	policy *exchange.ReconnectPolicy

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool

	seqMu sync.Mutex
	seq   map[string]int64
}

func NewAdapter(reg bookKeeper, events exchange.Events, maxReconnects int) *Adapter {
	return &Adapter{
		reg:    reg,
		events: events,
		policy: exchange.NewReconnectPolicy(maxReconnects),
		seq:    make(map[string]int64),
	}
}

func (a *Adapter) Venue() model.Venue { return model.VenueBybit }

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wireMsg struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" | "delta"
	Data  struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	} `json:"data"`
}

func (a *Adapter) Start(ctx context.Context, symbols []model.Symbol) error {
	return a.policy.Run(ctx, func(ctx context.Context) error {
		return a.connectAndRun(ctx, symbols)
	})
}

func (a *Adapter) connectAndRun(ctx context.Context, symbols []model.Symbol) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit: dial: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	bySymbol := make(map[string]model.Symbol, len(symbols))
	args := make([]string, 0, len(symbols))
	const chunkCap = 10 // bybit caps topics per subscribe frame; chunk if needed
	for _, s := range symbols {
		wire := s.Base + s.Quote
		bySymbol[wire] = s
		args = append(args, "orderbook.200."+wire)
	}
	for i := 0; i < len(args); i += chunkCap {
		end := i + chunkCap
		if end > len(args) {
			end = len(args)
		}
		if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: args[i:end]}); err != nil {
			return fmt.Errorf("bybit: subscribe: %w", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go a.pinger(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bybit: read: %w", err)
		}
		a.handleMessage(raw, bySymbol)
	}
}

func (a *Adapter) pinger(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) handleMessage(raw []byte, bySymbol map[string]model.Symbol) {
	if !strings.Contains(string(raw), "\"topic\"") {
		return // subscribe ack / pong — ignore
	}
	var msg wireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("⚠️ bybit: malformed message: %v", err)
		return
	}
	sym, ok := bySymbol[msg.Data.Symbol]
	if !ok {
		return
	}
	replica := a.reg.Book(model.VenueBybit, sym)

	if msg.Type == "snapshot" {
		a.seqMu.Lock()
		a.seq[msg.Data.Symbol] = 0
		a.seqMu.Unlock()

		snap := book.Snapshot{EventTime: time.Now()}
		for _, lvl := range msg.Data.Bids {
			snap.Bids = append(snap.Bids, toLevel(lvl))
		}
		for _, lvl := range msg.Data.Asks {
			snap.Asks = append(snap.Asks, toLevel(lvl))
		}
		replica.ApplySnapshot(snap)
		a.emitTick(sym, replica)
		return
	}

	if msg.Type != "delta" {
		return
	}
	if !replica.Initialized() {
		log.Printf("bybit: %s delta before snapshot, discarded", sym)
		return
	}

	a.seqMu.Lock()
	a.seq[msg.Data.Symbol]++
	next := a.seq[msg.Data.Symbol]
	a.seqMu.Unlock()

	delta := book.Delta{EventTime: time.Now(), FirstNewUpdateID: next, LastNewUpdateID: next}
	for _, lvl := range msg.Data.Bids {
		delta.Bids = append(delta.Bids, toLevel(lvl))
	}
	for _, lvl := range msg.Data.Asks {
		delta.Asks = append(delta.Asks, toLevel(lvl))
	}
	if err := replica.ApplyDelta(delta); err == book.ErrGap {
		log.Printf("⚠️ bybit: %s local sequence gap, re-snapshot requested", sym)
		if a.events.Invalidate != nil {
			a.events.Invalidate <- model.BookInvalidate{Venue: model.VenueBybit, Symbol: sym, Reason: "sequence gap"}
		}
		replica.Invalidate()
		return
	}
	a.emitTick(sym, replica)
}

// emitTick derives a PriceTick from the book's current top — Bybit's
// orderbook topic carries no separate last-trade price, so "last" is
// approximated as the book mid the way a simple estimator would.
func (a *Adapter) emitTick(sym model.Symbol, replica *book.Replica) {
	if a.events.Ticks == nil {
		return
	}
	top := replica.TopOfBook()
	if !top.OK {
		return
	}
	mid := top.Bid.Add(top.Ask).Div(decimal.NewFromInt(2))
	a.events.Ticks <- model.PriceTick{
		Venue:     model.VenueBybit,
		Symbol:    sym,
		Last:      mid,
		Bid:       top.Bid,
		Ask:       top.Ask,
		Timestamp: time.Now(),
	}
}

func toLevel(pair []string) book.Level {
	if len(pair) != 2 {
		return book.Level{}
	}
	p, _ := decimal.NewFromString(pair[0])
	q, _ := decimal.NewFromString(pair[1])
	return book.Level{Price: p, Size: q}
}

func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	if a.conn != nil {
		a.conn.Close()
	}
}
