// Package execution implements OrderExecutor from spec.md 4.8. Grounded
// on execution_service.go's ExecuteTrade / monitorLimitOrder / the
// poll-to-terminal loop it runs for Binance futures orders, generalized
// to a venue-agnostic surface backed by one TradingClient per venue.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// TradingClient is implemented once per venue, wrapping its REST trading
// API (createMarketOrder/createLimitOrder/fetchOrder/cancelOrder).
type TradingClient interface {
	Venue() model.Venue
	CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount decimal.Decimal) (model.ExecutedOrder, error)
	CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount, price decimal.Decimal) (model.ExecutedOrder, error)
	FetchOrder(ctx context.Context, symbol model.Symbol, orderID string) (model.ExecutedOrder, error)
	CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error
}

type Executor struct {
	clients map[model.Venue]TradingClient
}

func New(clients []TradingClient) *Executor {
	m := make(map[model.Venue]TradingClient, len(clients))
	for _, c := range clients {
		m[c.Venue()] = c
	}
	return &Executor{clients: m}
}

var ErrUnknownVenue = fmt.Errorf("execution: no trading client for venue")

func (e *Executor) client(v model.Venue) (TradingClient, error) {
	c, ok := e.clients[v]
	if !ok {
		return noopClient{}, ErrUnknownVenue
	}
	return c, nil
}

type noopClient struct{}

func (noopClient) Venue() model.Venue { return "" }
func (noopClient) CreateMarketOrder(context.Context, model.Symbol, model.Direction, decimal.Decimal) (model.ExecutedOrder, error) {
	return model.ExecutedOrder{}, ErrUnknownVenue
}
func (noopClient) CreateLimitOrder(context.Context, model.Symbol, model.Direction, decimal.Decimal, decimal.Decimal) (model.ExecutedOrder, error) {
	return model.ExecutedOrder{}, ErrUnknownVenue
}
func (noopClient) FetchOrder(context.Context, model.Symbol, string) (model.ExecutedOrder, error) {
	return model.ExecutedOrder{}, ErrUnknownVenue
}
func (noopClient) CancelOrder(context.Context, model.Symbol, string) error { return ErrUnknownVenue }

// Place submits an order. Market orders are polled once immediately after
// submission; limit orders require Price and are left for the caller to
// drive via WaitForTerminal.
func (e *Executor) Place(ctx context.Context, req model.OrderRequest) (model.ExecutedOrder, error) {
	c, err := e.client(req.Venue)
	if err != nil {
		return model.ExecutedOrder{}, err
	}

	if req.IsMarket {
		order, err := c.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Amount)
		if err != nil {
			return model.ExecutedOrder{}, fmt.Errorf("execution: market order %s %s: %w", req.Venue, req.Symbol, err)
		}
		polled, err := c.FetchOrder(ctx, req.Symbol, order.OrderID)
		if err != nil {
			return order, nil // submission succeeded; poll failure is the caller's to retry
		}
		return polled, nil
	}

	if req.Price.IsZero() {
		return model.ExecutedOrder{}, fmt.Errorf("execution: limit order requires price")
	}
	return c.CreateLimitOrder(ctx, req.Symbol, req.Side, req.Amount, req.Price)
}

func (e *Executor) Poll(ctx context.Context, venue model.Venue, symbol model.Symbol, orderID string) (model.ExecutedOrder, error) {
	c, err := e.client(venue)
	if err != nil {
		return model.ExecutedOrder{}, err
	}
	return c.FetchOrder(ctx, symbol, orderID)
}

// Cancel is best-effort and idempotent — errors from an already-terminal
// order are swallowed.
func (e *Executor) Cancel(ctx context.Context, venue model.Venue, symbol model.Symbol, orderID string) {
	c, err := e.client(venue)
	if err != nil {
		return
	}
	_ = c.CancelOrder(ctx, symbol, orderID)
}

var ErrTimeout = fmt.Errorf("execution: wait for terminal state timed out")

// WaitForTerminal polls until the order reaches a terminal status or the
// timeout elapses. The executor does not own retry policy — callers
// compose their own retries/cancel decisions on ErrTimeout.
func (e *Executor) WaitForTerminal(ctx context.Context, venue model.Venue, symbol model.Symbol, orderID string, timeout time.Duration, pollEvery time.Duration) (model.ExecutedOrder, error) {
	deadline := time.Now().Add(timeout)
	for {
		order, err := e.Poll(ctx, venue, symbol, orderID)
		if err == nil && order.IsTerminal() {
			return order, nil
		}
		if time.Now().After(deadline) {
			return order, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}
