package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"whale-radar/internal/model"
)

func recompute(secret, ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + method + path + string(body)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignMatchesHMACSHA256OverTimestampMethodPathBody(t *testing.T) {
	t.Parallel()
	c := NewTradingClient("key", "secret")

	ts, sig := c.sign("POST", "/api/v3/brokerage/orders", []byte(`{"a":1}`))
	if ts == "" || sig == "" {
		t.Fatal("sign returned an empty timestamp or signature")
	}
	if want := recompute("secret", ts, "POST", "/api/v3/brokerage/orders", []byte(`{"a":1}`)); sig != want {
		t.Errorf("sig = %s, want %s", sig, want)
	}
}

func TestSignDiffersAcrossSecrets(t *testing.T) {
	t.Parallel()
	a := NewTradingClient("key", "secret-a")
	b := NewTradingClient("key", "secret-b")

	_, sigA := a.sign("GET", "/api/v3/brokerage/accounts", nil)
	_, sigB := b.sign("GET", "/api/v3/brokerage/accounts", nil)
	if sigA == sigB {
		t.Error("different api secrets should not produce the same signature")
	}
}

func TestProductID(t *testing.T) {
	t.Parallel()
	got := productID(model.NewSymbol("BTC", "USD"))
	if got != "BTC-USD" {
		t.Errorf("productID = %q, want BTC-USD", got)
	}
}

func TestMapCoinbaseStatus(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"FILLED":    "closed",
		"CANCELLED": "canceled",
		"EXPIRED":   "canceled",
		"FAILED":    "canceled",
		"OPEN":      "open",
		"PENDING":   "open",
	}
	for in, want := range cases {
		if got := mapCoinbaseStatus(in); got != want {
			t.Errorf("mapCoinbaseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
