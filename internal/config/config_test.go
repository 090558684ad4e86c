package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetStrFallsBackToDefault(t *testing.T) {
	t.Setenv("WR_TEST_STR", "")
	if got := getStr("WR_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("getStr = %q, want fallback", got)
	}

	t.Setenv("WR_TEST_STR", "set")
	if got := getStr("WR_TEST_STR", "fallback"); got != "set" {
		t.Errorf("getStr = %q, want set", got)
	}
}

func TestGetBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("WR_TEST_BOOL", "")
	if got := getBool("WR_TEST_BOOL", true); got != true {
		t.Error("getBool should fall back to default when unset")
	}

	t.Setenv("WR_TEST_BOOL", "false")
	if got := getBool("WR_TEST_BOOL", true); got != false {
		t.Error("getBool should parse 'false'")
	}

	t.Setenv("WR_TEST_BOOL", "not-a-bool")
	if got := getBool("WR_TEST_BOOL", true); got != true {
		t.Error("getBool should fall back to default on a parse error")
	}
}

func TestGetIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("WR_TEST_INT", "42")
	if got := getInt("WR_TEST_INT", 7); got != 42 {
		t.Errorf("getInt = %d, want 42", got)
	}

	t.Setenv("WR_TEST_INT", "nope")
	if got := getInt("WR_TEST_INT", 7); got != 7 {
		t.Errorf("getInt on parse error = %d, want fallback 7", got)
	}
}

func TestGetDecimalParsesOrFallsBack(t *testing.T) {
	t.Setenv("WR_TEST_DEC", "1.25")
	if got := getDecimal("WR_TEST_DEC", "0"); !got.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("getDecimal = %s, want 1.25", got)
	}

	t.Setenv("WR_TEST_DEC", "garbage")
	if got := getDecimal("WR_TEST_DEC", "9.5"); !got.Equal(decimal.NewFromFloat(9.5)) {
		t.Errorf("getDecimal on parse error = %s, want default 9.5", got)
	}
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	got := splitCSV(" BTC/USDT, ETH/USDT ,,SOL/USDT")
	want := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitCSVEmptyReturnsNil(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Errorf("splitCSV(\"\") = %v, want nil", got)
	}
}
