package kraken

import (
	"net/url"
	"testing"

	"whale-radar/internal/model"
)

func TestSignIsDeterministicForFixedNonce(t *testing.T) {
	t.Parallel()
	c := NewTradingClient("key", "c2VjcmV0") // base64("secret")

	values := url.Values{"nonce": {"1700000000000"}, "pair": {"XBTUSD"}}
	sig1, err := c.sign("/0/private/AddOrder", values)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := c.sign("/0/private/AddOrder", values)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 != sig2 {
		t.Error("signing identical (path, values) twice should be deterministic")
	}
}

func TestSignChangesWithNonce(t *testing.T) {
	t.Parallel()
	c := NewTradingClient("key", "c2VjcmV0")

	sigA, err := c.sign("/0/private/AddOrder", url.Values{"nonce": {"1"}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sigB, err := c.sign("/0/private/AddOrder", url.Values{"nonce": {"2"}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sigA == sigB {
		t.Error("different nonces should not produce the same signature")
	}
}

func TestSignRejectsInvalidBase64Secret(t *testing.T) {
	t.Parallel()
	c := NewTradingClient("key", "not-valid-base64!!!")
	if _, err := c.sign("/0/private/AddOrder", url.Values{"nonce": {"1"}}); err == nil {
		t.Error("expected an error for a non-base64 api secret")
	}
}

func TestKrakenPair(t *testing.T) {
	t.Parallel()
	got := krakenPair(model.NewSymbol("BTC", "USD"))
	if got != "BTCUSD" {
		t.Errorf("krakenPair = %q, want BTCUSD", got)
	}
}

func TestMapKrakenStatus(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"closed":  "closed",
		"canceled": "canceled",
		"expired": "canceled",
		"open":    "open",
		"pending": "open",
	}
	for in, want := range cases {
		if got := mapKrakenStatus(in); got != want {
			t.Errorf("mapKrakenStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
