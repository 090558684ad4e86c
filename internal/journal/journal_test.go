package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRecordAppendsJSONLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	ended := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	attempt := model.TradeAttempt{
		ID: "t1", OpportunityID: "o1", Kind: model.KindCrossVenue,
		Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(10), EndedAt: ended,
	}
	j.Record(attempt)

	path := filepath.Join(dir, "trades-2026-03-04.jsonl")
	waitFor(t, time.Second, func() bool {
		_, err := os.Stat(path)
		return err == nil
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got model.TradeAttempt
	if err := json.Unmarshal(data[:len(data)-1], &got); err != nil { // trailing newline
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("recorded ID = %q, want t1", got.ID)
	}
}

func TestDailyReportReflectsWinsAndLosses(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	now := time.Now()
	j.Record(model.TradeAttempt{ID: "win", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(20), EndedAt: now})
	j.Record(model.TradeAttempt{ID: "loss", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(-5), EndedAt: now})

	waitFor(t, time.Second, func() bool {
		j.statsMu.Lock()
		defer j.statsMu.Unlock()
		return j.attempted == 2
	})

	report := j.DailyReport(decimal.NewFromInt(100))
	if report == "" {
		t.Fatal("expected a non-empty report")
	}
}

// TestNetPnLSumsAllWinsNotJustTheBest guards against the bug where net PnL
// was computed from bestTrade alone, silently discarding every non-best win.
func TestNetPnLSumsAllWinsNotJustTheBest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	now := time.Now()
	j.Record(model.TradeAttempt{ID: "win1", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(20), EndedAt: now})
	j.Record(model.TradeAttempt{ID: "win2", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(10), EndedAt: now})
	j.Record(model.TradeAttempt{ID: "loss", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(-5), EndedAt: now})

	waitFor(t, time.Second, func() bool {
		j.statsMu.Lock()
		defer j.statsMu.Unlock()
		return j.attempted == 3
	})

	j.statsMu.Lock()
	gross := j.grossProfit
	loss := j.dailyLoss
	j.statsMu.Unlock()

	wantGross := decimal.NewFromInt(30) // 20 + 10, not just bestTrade (20)
	if !gross.Equal(wantGross) {
		t.Errorf("grossProfit = %s, want %s", gross, wantGross)
	}
	wantNet := wantGross.Sub(decimal.NewFromInt(5))
	if net := gross.Sub(loss); !net.Equal(wantNet) {
		t.Errorf("net PnL = %s, want %s", net, wantNet)
	}
}

func TestDailyReportBreaksDownAttemptsByOutcomeAndKind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	now := time.Now()
	j.Record(model.TradeAttempt{ID: "c1", Kind: model.KindCrossVenue, Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(5), StartedAt: now, EndedAt: now.Add(50 * time.Millisecond)})
	j.Record(model.TradeAttempt{ID: "c2", Kind: model.KindCrossVenue, Status: model.StatusFailed, EndedAt: now})
	j.Record(model.TradeAttempt{ID: "t1", Kind: model.KindTriangular, Status: model.StatusRejected, EndedAt: now})

	waitFor(t, time.Second, func() bool {
		j.statsMu.Lock()
		defer j.statsMu.Unlock()
		return j.attempted == 3
	})

	j.statsMu.Lock()
	attempted, completed, failed, rejected := j.attempted, j.completed, j.failed, j.rejected
	execSamples := j.execSamples
	crossKind := j.byKind[model.KindCrossVenue]
	triKind := j.byKind[model.KindTriangular]
	j.statsMu.Unlock()

	if attempted != 3 || completed != 1 || failed != 1 || rejected != 1 {
		t.Errorf("attempted/completed/failed/rejected = %d/%d/%d/%d, want 3/1/1/1", attempted, completed, failed, rejected)
	}
	if execSamples != 1 {
		t.Errorf("execSamples = %d, want 1 (only the COMPLETED attempt carries execution time)", execSamples)
	}
	if crossKind == nil || crossKind.attempted != 2 || crossKind.completed != 1 || crossKind.failed != 1 {
		t.Errorf("CROSS_VENUE kind stats = %+v, want attempted=2 completed=1 failed=1", crossKind)
	}
	if triKind == nil || triKind.attempted != 1 || triKind.rejected != 1 {
		t.Errorf("TRIANGULAR kind stats = %+v, want attempted=1 rejected=1", triKind)
	}

	report := j.DailyReport(decimal.NewFromInt(100))
	if report == "" {
		t.Fatal("expected a non-empty report")
	}
}

func TestStatsResetOnUTCDateChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	day1 := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	j.Record(model.TradeAttempt{ID: "d1", Status: model.StatusCompleted, RealizedProfit: decimal.NewFromInt(20), EndedAt: day1})

	waitFor(t, time.Second, func() bool {
		j.statsMu.Lock()
		defer j.statsMu.Unlock()
		return j.attempted == 1
	})

	day2 := time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC)
	j.Record(model.TradeAttempt{ID: "d2", Status: model.StatusFailed, EndedAt: day2})

	waitFor(t, time.Second, func() bool {
		j.statsMu.Lock()
		defer j.statsMu.Unlock()
		return j.lastResetDate == "2026-03-05"
	})

	j.statsMu.Lock()
	attempted, completed, failed, gross := j.attempted, j.completed, j.failed, j.grossProfit
	j.statsMu.Unlock()

	if attempted != 1 || failed != 1 || completed != 0 {
		t.Errorf("after day rollover attempted/completed/failed = %d/%d/%d, want 1/0/1 (day1's stats must not carry over)", attempted, completed, failed)
	}
	if !gross.IsZero() {
		t.Errorf("grossProfit = %s, want 0 after rollover", gross)
	}
}

func TestUpdateStatsIgnoresNonTerminalStatuses(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	j.Record(model.TradeAttempt{ID: "still-going", Status: model.StatusExecuting, EndedAt: time.Now()})

	waitFor(t, time.Second, func() bool {
		_, err := os.Stat(filepath.Join(dir, "trades-"+time.Now().Format("2006-01-02")+".jsonl"))
		return err == nil
	})

	j.statsMu.Lock()
	count := j.attempted
	j.statsMu.Unlock()
	if count != 0 {
		t.Errorf("attempted = %d, want 0 (EXECUTING is not terminal)", count)
	}
}

func TestWriteEndOfDaySummaryWritesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	day := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	if err := j.WriteEndOfDaySummary(day, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("WriteEndOfDaySummary: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "summary-2026-05-01.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a non-empty summary file")
	}
}
