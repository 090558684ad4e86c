// Package coinbase implements the Venue C book protocol from spec.md 4.1:
// a "snapshot" message seeds state, "l2update" messages carry
// side/price/size triples, size=0 removes the level. Grounded on main.go's
// CoinbaseAdvanced struct, which dials the Coinbase Advanced Trade WS feed
// directly with gorilla/websocket and switches on the message "type" field.
package coinbase

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

const wsURL = "wss://advanced-trade-ws.coinbase.com"

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
	seq   map[model.Symbol]int64 // local monotonic counter; Coinbase's feed carries no venue sequence id
}

func NewAdapter(reg bookKeeper, events exchange.Events, maxReconnects int) *Adapter {
	return &Adapter{
		reg:    reg,
		events: events,
		policy: exchange.NewReconnectPolicy(maxReconnects),
		seq:    make(map[model.Symbol]int64),
	}
}

func (a *Adapter) nextSeq(sym model.Symbol) int64 {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	a.seq[sym]++
	return a.seq[sym]
}

func (a *Adapter) curSeq(sym model.Symbol) int64 {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	return a.seq[sym]
}

func (a *Adapter) Venue() model.Venue { return model.VenueCoinbase }

type subscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

type wireMsg struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string `json:"type"` // "snapshot" | "update"
		Product string `json:"product_id"`
		Updates []struct {
			Side      string `json:"side"` // "bid" | "offer"
			Price     string `json:"price_level"`
			Size      string `json:"new_quantity"`
		} `json:"updates"`
	} `json:"events"`
}

func (a *Adapter) Start(ctx context.Context, symbols []model.Symbol) error {
	return a.policy.Run(ctx, func(ctx context.Context) error {
		return a.connectAndRun(ctx, symbols)
	})
}

func (a *Adapter) connectAndRun(ctx context.Context, symbols []model.Symbol) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("coinbase: dial: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	products := make([]string, len(symbols))
	bySymbol := make(map[string]model.Symbol, len(symbols))
	for i, s := range symbols {
		wire := s.Base + "-" + s.Quote
		products[i] = wire
		bySymbol[wire] = s
	}

	sub := subscribeMsg{Type: "subscribe", ProductIDs: products, Channel: "level2"}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("coinbase: subscribe: %w", err)
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
			return fmt.Errorf("coinbase: read: %w", err)
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
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) handleMessage(raw []byte, bySymbol map[string]model.Symbol) {
	var msg wireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("⚠️ coinbase: malformed message: %v", err)
		return
	}
	if msg.Channel != "l2_data" {
		return
	}

	for _, ev := range msg.Events {
		sym, ok := bySymbol[ev.Product]
		if !ok {
			continue
		}
		replica := a.reg.Book(model.VenueCoinbase, sym)

		if ev.Type == "snapshot" {
			snap := book.Snapshot{EventTime: time.Now(), LastUpdateID: a.curSeq(sym)}
			for _, u := range ev.Updates {
				lvl := toLevel(u.Price, u.Size)
				if strings.EqualFold(u.Side, "bid") {
					snap.Bids = append(snap.Bids, lvl)
				} else {
					snap.Asks = append(snap.Asks, lvl)
				}
			}
			replica.ApplySnapshot(snap)
			a.emitTick(sym, replica)
			continue
		}

		if !replica.Initialized() {
			log.Printf("coinbase: %s update before snapshot, discarded", sym)
			continue
		}
		next := a.nextSeq(sym)
		delta := book.Delta{EventTime: time.Now(), FirstNewUpdateID: next, LastNewUpdateID: next}
		for _, u := range ev.Updates {
			lvl := toLevel(u.Price, u.Size)
			if strings.EqualFold(u.Side, "bid") {
				delta.Bids = append(delta.Bids, lvl)
			} else {
				delta.Asks = append(delta.Asks, lvl)
			}
		}
		// Coinbase's level2 feed carries no venue sequence id; we stamp our
		// own monotonic counter so book.Replica's chaining rule is satisfied.
		// The counter advances per message received, so it cannot reveal a
		// message that never arrived.
		replica.ApplyDelta(delta)
	}
}

// emitTick derives a PriceTick from the book's current top, with "last"
// approximated as the mid, the same simplification the bybit and kraken
// adapters use.
func (a *Adapter) emitTick(sym model.Symbol, replica *book.Replica) {
	top := replica.TopOfBook()
	if a.events.Ticks == nil || !top.OK {
		return
	}
	mid := top.Bid.Add(top.Ask).Div(decimal.NewFromInt(2))
	a.events.Ticks <- model.PriceTick{Venue: model.VenueCoinbase, Symbol: sym, Last: mid, Bid: top.Bid, Ask: top.Ask, Timestamp: time.Now()}
}

func toLevel(priceStr, sizeStr string) book.Level {
	p, _ := decimal.NewFromString(priceStr)
	s, _ := decimal.NewFromString(sizeStr)
	return book.Level{Price: p, Size: s}
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
