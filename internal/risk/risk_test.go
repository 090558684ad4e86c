package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

type fakeBalances struct{ available bool }

func (f fakeBalances) HasAvailable(venue model.Venue, currency string, amount decimal.Decimal) bool {
	return f.available
}

func newTestManager(balances balanceChecker) *Manager {
	m := NewManager(100, decimal.NewFromInt(1000), 10, decimal.NewFromInt(100000), balances)
	m.SetKindLimits(model.KindCrossVenue, KindLimits{
		Enabled:             true,
		MinProfitPercent:    decimal.NewFromFloat(0.5),
		MaxPositionSize:     decimal.NewFromInt(5000),
		MaxConcurrentTrades: 3,
	})
	return m
}

func baseCandidate() Candidate {
	return Candidate{
		Kind:          model.KindCrossVenue,
		Symbol:        "BTC/USDT",
		Venues:        []model.Venue{model.VenueBinance, model.VenueCoinbase},
		ProfitPercent: decimal.NewFromFloat(1.2),
		PositionSize:  decimal.NewFromInt(1000),
		BuyVenue:      model.VenueBinance,
		QuoteCurrency: "USDT",
		RequiredQuote: decimal.NewFromInt(1000),
	}
}

func TestEvaluateApprovesWhenAllChecksPass(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})

	got := m.Evaluate(baseCandidate(), time.Now())
	if !got.Approved {
		t.Fatalf("expected approval, got reasons: %v", got.Reasons)
	}
}

func TestEvaluateRejectsWhenTradingDisabled(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.SetTradingEnabled(false)

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection when trading is globally disabled")
	}
}

func TestEvaluateRejectsBelowMinProfit(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	c := baseCandidate()
	c.ProfitPercent = decimal.NewFromFloat(0.1)

	got := m.Evaluate(c, time.Now())
	if got.Approved {
		t.Fatal("expected rejection: profit below kind minimum")
	}
}

func TestEvaluateRejectsInsufficientBalance(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: false})

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: insufficient quote balance")
	}
}

func TestEvaluateRejectsBlacklistedSymbol(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.Blacklist("BTC/USDT", "")

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: symbol blacklisted")
	}
}

func TestEvaluateRejectsBlacklistedVenue(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.Blacklist("", model.VenueBinance)

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: venue blacklisted")
	}
}

func TestEvaluateRejectsAboveMaxConcurrentForKind(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.IncrementActive(model.KindCrossVenue)
	m.IncrementActive(model.KindCrossVenue)
	m.IncrementActive(model.KindCrossVenue)

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: max concurrent trades for kind reached")
	}
}

func TestRecordTripsEmergencyStopAtDailyLossCap(t *testing.T) {
	t.Parallel()
	m := NewManager(100, decimal.NewFromInt(50), 10, decimal.NewFromInt(100000), fakeBalances{available: true})
	m.SetKindLimits(model.KindCrossVenue, KindLimits{Enabled: true, MaxPositionSize: decimal.NewFromInt(5000), MaxConcurrentTrades: 3})

	now := time.Now()
	m.Record(decimal.NewFromInt(-60), now)

	if !m.EmergencyStop() {
		t.Error("expected emergency stop to trip once daily loss reaches the cap")
	}
}

func TestRecordResetsDailyCountersOnNewDay(t *testing.T) {
	t.Parallel()
	m := NewManager(1, decimal.NewFromInt(1000), 10, decimal.NewFromInt(100000), fakeBalances{available: true})

	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.Record(decimal.NewFromInt(-10), day1)
	if m.Snapshot().DailyTrades != 1 {
		t.Fatalf("DailyTrades = %d, want 1", m.Snapshot().DailyTrades)
	}

	day2 := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	m.Record(decimal.NewFromInt(5), day2)
	if m.Snapshot().DailyTrades != 1 {
		t.Errorf("DailyTrades on new day = %d, want 1 (counter should reset)", m.Snapshot().DailyTrades)
	}
}

func TestExposureGuardRejectsOverNotionalCap(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.maxTotalNotional = decimal.NewFromInt(1500)
	m.RegisterExposure("already-active", decimal.NewFromInt(1000))

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: combined notional exceeds cap")
	}

	m.ReleaseExposure("already-active")
	// Past the 30s per-symbol cooldown the rejection above started.
	got = m.Evaluate(baseCandidate(), time.Now().Add(31*time.Second))
	if !got.Approved {
		t.Fatalf("expected approval once exposure released, got reasons: %v", got.Reasons)
	}
}

func TestExposureGuardEnforcesConcurrentCap(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})
	m.maxConcurrentTotal = 1
	m.RegisterExposure("slot-1", decimal.NewFromInt(1))

	got := m.Evaluate(baseCandidate(), time.Now())
	if got.Approved {
		t.Fatal("expected rejection: max concurrent opportunities reached")
	}
}

func TestTriggerAndResetEmergencyStop(t *testing.T) {
	t.Parallel()
	m := newTestManager(fakeBalances{available: true})

	m.TriggerEmergencyStop()
	if !m.EmergencyStop() {
		t.Fatal("expected emergency stop to be active")
	}

	m.ResetEmergencyStop()
	if m.EmergencyStop() {
		t.Fatal("expected emergency stop to be cleared")
	}
}
