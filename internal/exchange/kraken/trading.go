package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// TradingClient implements execution.TradingClient and balance.Fetcher
// over Kraken's private REST API (api.kraken.com/0/private/...). Like
// the Coinbase client, this talks REST directly since the pack carries
// no Kraken SDK; signing follows Kraken's documented
// HMAC-SHA512(path + SHA256(nonce + postdata)) scheme.
type TradingClient struct {
	apiKey     string
	apiSecret  string // base64-encoded
	httpClient *http.Client
	baseURL    string
}

func NewTradingClient(apiKey, apiSecret string) *TradingClient {
	return &TradingClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.kraken.com",
	}
}

func (t *TradingClient) Venue() model.Venue { return model.VenueKraken }

func (t *TradingClient) sign(path string, values url.Values) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(t.apiSecret)
	if err != nil {
		return "", fmt.Errorf("kraken: invalid api secret encoding: %w", err)
	}
	sha := sha256.New()
	sha.Write([]byte(values.Get("nonce") + values.Encode()))
	shaSum := sha.Sum(nil)

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(shaSum)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (t *TradingClient) post(ctx context.Context, path string, values url.Values) ([]byte, error) {
	values.Set("nonce", strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10))
	sig, err := t.sign(path, values)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", t.apiKey)
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return nil, fmt.Errorf("kraken: %s: status %d: %s", path, resp.StatusCode, string(out))
	}
	return out, nil
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func krakenPair(symbol model.Symbol) string {
	return symbol.Base + symbol.Quote
}

func (t *TradingClient) addOrder(ctx context.Context, symbol model.Symbol, side model.Direction, orderType string, amount, price decimal.Decimal) (string, error) {
	side2 := "buy"
	if side == model.DirSell {
		side2 = "sell"
	}
	values := url.Values{
		"pair":      {krakenPair(symbol)},
		"type":      {side2},
		"ordertype": {orderType},
		"volume":    {amount.String()},
	}
	if orderType == "limit" {
		values.Set("price", price.String())
	}
	raw, err := t.post(ctx, "/0/private/AddOrder", values)
	if err != nil {
		return "", err
	}
	var env krakenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("kraken: decode AddOrder: %w", err)
	}
	if len(env.Error) > 0 {
		return "", fmt.Errorf("kraken: AddOrder: %s", strings.Join(env.Error, "; "))
	}
	var result struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", fmt.Errorf("kraken: decode AddOrder result: %w", err)
	}
	if len(result.TxID) == 0 {
		return "", fmt.Errorf("kraken: AddOrder returned no txid")
	}
	return result.TxID[0], nil
}

func (t *TradingClient) CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount decimal.Decimal) (model.ExecutedOrder, error) {
	txid, err := t.addOrder(ctx, symbol, side, "market", amount, decimal.Zero)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: create market order: %w", err)
	}
	return t.FetchOrder(ctx, symbol, txid)
}

func (t *TradingClient) CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.Direction, amount, price decimal.Decimal) (model.ExecutedOrder, error) {
	txid, err := t.addOrder(ctx, symbol, side, "limit", amount, price)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: create limit order: %w", err)
	}
	return t.FetchOrder(ctx, symbol, txid)
}

func (t *TradingClient) FetchOrder(ctx context.Context, symbol model.Symbol, orderID string) (model.ExecutedOrder, error) {
	values := url.Values{"txid": {orderID}}
	raw, err := t.post(ctx, "/0/private/QueryOrders", values)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: fetch order %s: %w", orderID, err)
	}
	var env krakenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: decode QueryOrders: %w", err)
	}
	if len(env.Error) > 0 {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: QueryOrders: %s", strings.Join(env.Error, "; "))
	}
	var result map[string]struct {
		Status      string `json:"status"`
		Descr       struct{ Type string `json:"type"` } `json:"descr"`
		VolExec     string `json:"vol_exec"`
		Price       string `json:"price"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: decode QueryOrders result: %w", err)
	}
	o, ok := result[orderID]
	if !ok {
		return model.ExecutedOrder{}, fmt.Errorf("kraken: order %s not found", orderID)
	}
	filled, _ := decimal.NewFromString(o.VolExec)
	avg, _ := decimal.NewFromString(o.Price)
	return model.ExecutedOrder{
		Venue:     model.VenueKraken,
		Symbol:    symbol,
		OrderID:   orderID,
		Side:      model.Direction(o.Descr.Type),
		FilledQty: filled,
		AvgPrice:  avg,
		Status:    mapKrakenStatus(o.Status),
	}, nil
}

func mapKrakenStatus(s string) string {
	switch s {
	case "closed":
		return "closed"
	case "canceled", "expired":
		return "canceled"
	default:
		return "open"
	}
}

func (t *TradingClient) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	values := url.Values{"txid": {orderID}}
	raw, err := t.post(ctx, "/0/private/CancelOrder", values)
	if err != nil {
		return err
	}
	var env krakenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("kraken: decode CancelOrder: %w", err)
	}
	if len(env.Error) > 0 {
		return fmt.Errorf("kraken: CancelOrder: %s", strings.Join(env.Error, "; "))
	}
	return nil
}

func (t *TradingClient) FetchBalances(ctx context.Context) ([]model.Balance, error) {
	raw, err := t.post(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("kraken: fetch balance: %w", err)
	}
	var env krakenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kraken: decode Balance: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken: Balance: %s", strings.Join(env.Error, "; "))
	}
	var result map[string]string
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("kraken: decode Balance result: %w", err)
	}
	now := time.Now()
	out := make([]model.Balance, 0, len(result))
	for currency, amtStr := range result {
		amt, _ := decimal.NewFromString(amtStr)
		if amt.IsZero() {
			continue
		}
		out = append(out, model.Balance{
			Venue:      model.VenueKraken,
			Currency:   currency,
			Free:       amt,
			Total:      amt,
			LastUpdate: now,
		})
	}
	return out, nil
}
