package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// TradingClient implements execution.TradingClient and balance.Fetcher
// over go-binance/v2's spot REST trading endpoints, grounded on
// execution_service.go's ExecuteTrade order-placement calls (there made
// against the futures client; here against spot, per the spec's
// non-goals excluding margin/leverage).
type TradingClient struct {
	client *binance.Client
}

func NewTradingClient(apiKey, apiSecret string) *TradingClient {
	return &TradingClient{client: binance.NewClient(apiKey, apiSecret)}
}

func (t *TradingClient) Venue() model.Venue { return model.VenueBinance }

func toBinanceSide(side model.Direction) binance.SideType {
	if side == model.DirSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func fromBinanceOrder(o *binance.CreateOrderResponse, symbol model.Symbol) model.ExecutedOrder {
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)
	avgPrice := decimal.Zero
	if filled.GreaterThan(decimal.Zero) {
		avgPrice = cumQuote.Div(filled)
	}
	return model.ExecutedOrder{
		Venue:       model.VenueBinance,
		Symbol:      symbol,
		OrderID:     fmt.Sprintf("%d", o.OrderID),
		Side:        model.Direction(o.Side),
		FilledQty:   filled,
		AvgPrice:    avgPrice,
		Status:      mapBinanceStatus(string(o.Status)),
		SubmittedAt: time.UnixMilli(o.TransactTime),
	}
}

func mapBinanceStatus(s string) string {
	switch s {
	case "FILLED":
		return "closed"
	case "CANCELED", "EXPIRED", "REJECTED":
		return "canceled"
	default:
		return "open"
	}
}

func (t *TradingClient) CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount decimal.Decimal) (model.ExecutedOrder, error) {
	resp, err := t.client.NewCreateOrderService().
		Symbol(toWireSymbol(symbol)).
		Side(toBinanceSide(side)).
		Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		Do(ctx)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("binance: create market order: %w", err)
	}
	return fromBinanceOrder(resp, symbol), nil
}

func (t *TradingClient) CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount, price decimal.Decimal) (model.ExecutedOrder, error) {
	resp, err := t.client.NewCreateOrderService().
		Symbol(toWireSymbol(symbol)).
		Side(toBinanceSide(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(amount.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("binance: create limit order: %w", err)
	}
	return fromBinanceOrder(resp, symbol), nil
}

func (t *TradingClient) FetchOrder(ctx context.Context, symbol model.Symbol, orderID string) (model.ExecutedOrder, error) {
	var id int64
	fmt.Sscanf(orderID, "%d", &id)
	o, err := t.client.NewGetOrderService().Symbol(toWireSymbol(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("binance: fetch order %s: %w", orderID, err)
	}
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)
	avgPrice := decimal.Zero
	if filled.GreaterThan(decimal.Zero) {
		avgPrice = cumQuote.Div(filled)
	}
	return model.ExecutedOrder{
		Venue:     model.VenueBinance,
		Symbol:    symbol,
		OrderID:   orderID,
		Side:      model.Direction(o.Side),
		FilledQty: filled,
		AvgPrice:  avgPrice,
		Status:    mapBinanceStatus(string(o.Status)),
	}, nil
}

func (t *TradingClient) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	var id int64
	fmt.Sscanf(orderID, "%d", &id)
	_, err := t.client.NewCancelOrderService().Symbol(toWireSymbol(symbol)).OrderID(id).Do(ctx)
	return err
}

// FetchBalances implements balance.Fetcher, grounded on execution_service.go's
// CheckBalance (there a single free-margin read; here the full spot
// account balance list).
func (t *TradingClient) FetchBalances(ctx context.Context) ([]model.Balance, error) {
	acct, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch account: %w", err)
	}
	now := time.Now()
	out := make([]model.Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, model.Balance{
			Venue:      model.VenueBinance,
			Currency:   b.Asset,
			Free:       free,
			Used:       locked,
			Total:      free.Add(locked),
			LastUpdate: now,
		})
	}
	return out, nil
}
