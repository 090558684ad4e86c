// Package journal implements TransactionJournal from spec.md 4.9: an
// append-only per-day JSONL trade log plus a plain-text summary. Grounded
// on execution_service.go's GetDailyReport/GetStatusReport (the teacher's
// own end-of-day performance text), generalized from its in-memory
// win/loss counters to a durable on-disk record with a serialized
// single-writer queue.
package journal

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// kindStats breaks the attempted/completed/failed/rejected counts down by
// TradeKind for DailyReport's per-kind section.
type kindStats struct {
	attempted int
	completed int
	failed    int
	rejected  int
}

// Journal serializes every Record call through one queue so concurrent
// orchestrator goroutines never interleave writes to the same day's file.
type Journal struct {
	dir string

	mu      sync.Mutex
	entries chan model.TradeAttempt
	done    chan struct{}

	statsMu       sync.Mutex
	lastResetDate string
	attempted     int
	completed     int
	failed        int
	rejected      int
	partial       int
	rolledBack    int
	winCount      int
	bestTrade     decimal.Decimal
	grossProfit   decimal.Decimal
	dailyLoss     decimal.Decimal
	execMsTotal   int64
	execSamples   int
	byKind        map[model.TradeKind]*kindStats
}

func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	j := &Journal{
		dir:         dir,
		entries:     make(chan model.TradeAttempt, 256),
		done:        make(chan struct{}),
		dailyLoss:   decimal.Zero,
		bestTrade:   decimal.Zero,
		grossProfit: decimal.Zero,
		byKind:      make(map[model.TradeKind]*kindStats),
	}
	go j.writeLoop()
	return j, nil
}

// Record enqueues a terminal TradeAttempt for durable logging. It never
// blocks: when the queue's buffer is full the attempt is dropped and only
// a log line records the drop.
func (j *Journal) Record(attempt model.TradeAttempt) {
	select {
	case j.entries <- attempt:
	default:
		log.Printf("⚠️ journal: queue full, dropping attempt %s", attempt.ID)
	}
}

func (j *Journal) writeLoop() {
	for {
		select {
		case a := <-j.entries:
			j.append(a)
			j.updateStats(a)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) path(t time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("trades-%s.jsonl", t.Format("2006-01-02")))
}

func (j *Journal) append(a model.TradeAttempt) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path(a.EndedAt), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("❌ journal: open failed: %v", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(a)
	if err != nil {
		log.Printf("❌ journal: marshal failed: %v", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("❌ journal: write failed: %v", err)
	}
}

// updateStats folds one terminal TradeAttempt into the running daily
// counters. Every status reaching here came through Orchestrator.finish,
// so "attempted" counts every outcome, not just wins.
func (j *Journal) updateStats(a model.TradeAttempt) {
	if !a.Status.Terminal() {
		return
	}
	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	j.maybeResetDaily(a.EndedAt)

	j.attempted++
	k := j.byKind[a.Kind]
	if k == nil {
		k = &kindStats{}
		j.byKind[a.Kind] = k
	}
	k.attempted++

	switch a.Status {
	case model.StatusCompleted:
		j.completed++
		k.completed++
	case model.StatusFailed:
		j.failed++
		k.failed++
	case model.StatusRejected:
		j.rejected++
		k.rejected++
	case model.StatusPartial:
		j.partial++
	case model.StatusRolledBack:
		j.rolledBack++
	}

	// Only COMPLETED/PARTIAL attempts are counted for realized profit and
	// execution duration; REJECTED attempts never reach the executor and
	// FAILED ones carry no realized profit.
	if a.Status == model.StatusCompleted || a.Status == model.StatusPartial {
		j.execMsTotal += a.ExecutionMs()
		j.execSamples++
		switch {
		case a.RealizedProfit.GreaterThan(decimal.Zero):
			j.winCount++
			j.grossProfit = j.grossProfit.Add(a.RealizedProfit)
			if a.RealizedProfit.GreaterThan(j.bestTrade) {
				j.bestTrade = a.RealizedProfit
			}
		case a.RealizedProfit.LessThan(decimal.Zero):
			j.dailyLoss = j.dailyLoss.Add(a.RealizedProfit.Abs())
		}
	}
}

// maybeResetDaily clears every accumulator on a UTC date change, mirroring
// risk.Manager.maybeResetDaily — these stats are explicitly scoped to "today".
func (j *Journal) maybeResetDaily(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if j.lastResetDate == today {
		return
	}
	j.lastResetDate = today
	j.attempted = 0
	j.completed = 0
	j.failed = 0
	j.rejected = 0
	j.partial = 0
	j.rolledBack = 0
	j.winCount = 0
	j.bestTrade = decimal.Zero
	j.grossProfit = decimal.Zero
	j.dailyLoss = decimal.Zero
	j.execMsTotal = 0
	j.execSamples = 0
	j.byKind = make(map[model.TradeKind]*kindStats)
}

// DailyReport mirrors GetDailyReport's text shape for the Telegram /report
// command, expanded per spec.md 4.9 to carry attempted/completed/failed/
// rejected totals, gross and net profit, average execution time, success
// rate, and a breakdown by trade kind.
func (j *Journal) DailyReport(maxDailyLoss decimal.Decimal) string {
	j.statsMu.Lock()
	defer j.statsMu.Unlock()

	successRate := 0.0
	if j.attempted > 0 {
		successRate = float64(j.completed) / float64(j.attempted) * 100
	}
	winRate := 0.0
	if j.completed+j.partial > 0 {
		winRate = float64(j.winCount) / float64(j.completed+j.partial) * 100
	}
	avgExecMs := int64(0)
	if j.execSamples > 0 {
		avgExecMs = j.execMsTotal / int64(j.execSamples)
	}
	netPnL := j.grossProfit.Sub(j.dailyLoss)

	report := fmt.Sprintf(
		"💰 *DAILY PERFORMANCE REPORT*\n\n"+
			"*Attempted:* %d  *Completed:* %d  *Failed:* %d  *Rejected:* %d\n"+
			"*Success Rate:* %.1f%%\n"+
			"*Gross Profit:* %s  *Net PnL:* %s\n"+
			"*Win Rate:* %.1f%% (%d/%d)\n"+
			"*Best Trade:* %s\n"+
			"*Avg Execution:* %dms\n"+
			"*Partial:* %d  *Rolled Back:* %d\n"+
			"*Daily Loss:* %s / %s",
		j.attempted, j.completed, j.failed, j.rejected,
		successRate,
		j.grossProfit.StringFixed(2), netPnL.StringFixed(2),
		winRate, j.winCount, j.completed+j.partial,
		j.bestTrade.StringFixed(2),
		avgExecMs,
		j.partial, j.rolledBack,
		j.dailyLoss.StringFixed(2), maxDailyLoss.StringFixed(2))

	kinds := make([]string, 0, len(j.byKind))
	for kind := range j.byKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		k := j.byKind[model.TradeKind(kind)]
		report += fmt.Sprintf("\n*%s:* attempted %d, completed %d, failed %d, rejected %d",
			kind, k.attempted, k.completed, k.failed, k.rejected)
	}
	return report
}

// WriteEndOfDaySummary flushes a plain-text summary file for the given day,
// called on shutdown or a UTC day rollover.
func (j *Journal) WriteEndOfDaySummary(day time.Time, maxDailyLoss decimal.Decimal) error {
	path := filepath.Join(j.dir, fmt.Sprintf("summary-%s.txt", day.Format("2006-01-02")))
	return os.WriteFile(path, []byte(j.DailyReport(maxDailyLoss)+"\n"), 0o644)
}

// Close stops the write loop; attempts still in the queue are not written.
// Call on graceful shutdown after all in-flight orchestrator calls have
// returned.
func (j *Journal) Close() {
	close(j.done)
}
