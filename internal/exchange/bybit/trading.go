package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// TradingClient implements execution.TradingClient and balance.Fetcher
// over Bybit v5's unified REST trading API. As with Coinbase and Kraken,
// the pack carries no Bybit SDK, so this signs requests directly per
// Bybit's documented HMAC-SHA256(timestamp + apiKey + recvWindow + body)
// scheme.
type TradingClient struct {
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	baseURL    string
	recvWindow string
}

func NewTradingClient(apiKey, apiSecret string) *TradingClient {
	return &TradingClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.bybit.com",
		recvWindow: "5000",
	}
}

func (t *TradingClient) Venue() model.Venue { return model.VenueBybit }

func (t *TradingClient) sign(ts, body string) string {
	mac := hmac.New(sha256.New, []byte(t.apiSecret))
	mac.Write([]byte(ts + t.apiKey + t.recvWindow + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (t *TradingClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := t.sign(ts, string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-BAPI-API-KEY", t.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", t.recvWindow)
	req.Header.Set("X-BAPI-SIGN", sig)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit: %s: status %d: %s", path, resp.StatusCode, string(out))
	}
	return out, nil
}

func (t *TradingClient) get(ctx context.Context, path string) ([]byte, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := t.sign(ts, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-BAPI-API-KEY", t.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", t.recvWindow)
	req.Header.Set("X-BAPI-SIGN", sig)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit: %s: status %d: %s", path, resp.StatusCode, string(out))
	}
	return out, nil
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func bybitSymbol(symbol model.Symbol) string {
	return symbol.Base + symbol.Quote
}

func (t *TradingClient) placeOrder(ctx context.Context, symbol model.Symbol, side model.Direction, orderType string, amount, price decimal.Decimal) (string, error) {
	side2 := "Buy"
	if side == model.DirSell {
		side2 = "Sell"
	}
	payload := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(symbol),
		"side":     side2,
		"orderType": orderType,
		"qty":      amount.String(),
	}
	if orderType == "Limit" {
		payload["price"] = price.String()
	}
	raw, err := t.post(ctx, "/v5/order/create", payload)
	if err != nil {
		return "", err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("bybit: decode order/create: %w", err)
	}
	if env.RetCode != 0 {
		return "", fmt.Errorf("bybit: order/create: %s", env.RetMsg)
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", fmt.Errorf("bybit: decode order/create result: %w", err)
	}
	return result.OrderID, nil
}

func (t *TradingClient) CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount decimal.Decimal) (model.ExecutedOrder, error) {
	id, err := t.placeOrder(ctx, symbol, side, "Market", amount, decimal.Zero)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: create market order: %w", err)
	}
	return t.FetchOrder(ctx, symbol, id)
}

func (t *TradingClient) CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount, price decimal.Decimal) (model.ExecutedOrder, error) {
	id, err := t.placeOrder(ctx, symbol, side, "Limit", amount, price)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: create limit order: %w", err)
	}
	return t.FetchOrder(ctx, symbol, id)
}

func (t *TradingClient) FetchOrder(ctx context.Context, symbol model.Symbol, orderID string) (model.ExecutedOrder, error) {
	path := fmt.Sprintf("/v5/order/realtime?category=spot&symbol=%s&orderId=%s", bybitSymbol(symbol), orderID)
	raw, err := t.get(ctx, path)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: fetch order %s: %w", orderID, err)
	}
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: decode order/realtime: %w", err)
	}
	if env.RetCode != 0 {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: order/realtime: %s", env.RetMsg)
	}
	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: decode order/realtime result: %w", err)
	}
	if len(result.List) == 0 {
		return model.ExecutedOrder{}, fmt.Errorf("bybit: order %s not found", orderID)
	}
	o := result.List[0]
	filled, _ := decimal.NewFromString(o.CumExecQty)
	avg, _ := decimal.NewFromString(o.AvgPrice)
	return model.ExecutedOrder{
		Venue:     model.VenueBybit,
		Symbol:    symbol,
		OrderID:   o.OrderID,
		Side:      model.Direction(o.Side),
		FilledQty: filled,
		AvgPrice:  avg,
		Status:    mapBybitStatus(o.OrderStatus),
	}, nil
}

func mapBybitStatus(s string) string {
	switch s {
	case "Filled":
		return "closed"
	case "Cancelled", "Rejected", "Deactivated":
		return "canceled"
	default:
		return "open"
	}
}

func (t *TradingClient) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	payload := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(symbol),
		"orderId":  orderID,
	}
	raw, err := t.post(ctx, "/v5/order/cancel", payload)
	if err != nil {
		return err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bybit: decode order/cancel: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit: order/cancel: %s", env.RetMsg)
	}
	return nil
}

func (t *TradingClient) FetchBalances(ctx context.Context) ([]model.Balance, error) {
	raw, err := t.get(ctx, "/v5/account/wallet-balance?accountType=UNIFIED")
	if err != nil {
		return nil, fmt.Errorf("bybit: fetch wallet balance: %w", err)
	}
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bybit: decode wallet-balance: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit: wallet-balance: %s", env.RetMsg)
	}
	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode wallet-balance result: %w", err)
	}
	now := time.Now()
	var out []model.Balance
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			total, _ := decimal.NewFromString(c.WalletBalance)
			locked, _ := decimal.NewFromString(c.Locked)
			if total.IsZero() {
				continue
			}
			out = append(out, model.Balance{
				Venue:      model.VenueBybit,
				Currency:   c.Coin,
				Free:       total.Sub(locked),
				Used:       locked,
				Total:      total,
				LastUpdate: now,
			})
		}
	}
	return out, nil
}
