// Package risk implements RiskManager from spec.md 4.5, plus the
// concurrent-opportunity exposure cap and per-symbol cooldown adapted from
// predator_engine.go's GlobalExposureGuard (the teacher's own equivalent
// safety layer for its whale-signal execution pipeline).
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// KindLimits are the per-strategy-kind knobs spec.md names (CROSS_*,
// TRIANGULAR_* env vars).
type KindLimits struct {
	Enabled            bool
	MinProfitPercent   decimal.Decimal
	MaxPositionSize    decimal.Decimal
	MaxConcurrentTrades int
}

type balanceChecker interface {
	HasAvailable(venue model.Venue, currency string, amount decimal.Decimal) bool
}

// Manager owns the RiskLedger and the exposure guard. All mutation is
// behind one mutex; evaluate() never blocks on I/O.
type Manager struct {
	mu sync.Mutex

	ledger *model.RiskLedger

	tradingEnabled bool
	kindLimits     map[model.TradeKind]KindLimits

	maxDailyTrades int
	maxDailyLoss   decimal.Decimal

	balances balanceChecker

	// Exposure guard (adapted from GlobalExposureGuard): caps concurrent
	// opportunities regardless of kind, and cools a symbol off for a
	// period after it was rejected for exceeding the notional cap.
	maxConcurrentTotal int
	maxTotalNotional   decimal.Decimal
	activeNotional     map[string]decimal.Decimal
	blockedUntil       map[string]time.Time

	// OnEmergencyStop is called (outside the lock) when the daily loss cap
	// trips emergency stop; TriggerEmergencyStop does not call it.
	OnEmergencyStop func(reason string)
}

func NewManager(maxDailyTrades int, maxDailyLoss decimal.Decimal, maxConcurrentTotal int, maxTotalNotional decimal.Decimal, balances balanceChecker) *Manager {
	return &Manager{
		ledger:             model.NewRiskLedger(),
		tradingEnabled:     true,
		kindLimits:         make(map[model.TradeKind]KindLimits),
		maxDailyTrades:     maxDailyTrades,
		maxDailyLoss:       maxDailyLoss,
		balances:           balances,
		maxConcurrentTotal: maxConcurrentTotal,
		maxTotalNotional:   maxTotalNotional,
		activeNotional:     make(map[string]decimal.Decimal),
		blockedUntil:       make(map[string]time.Time),
	}
}

func (m *Manager) SetKindLimits(kind model.TradeKind, limits KindLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kindLimits[kind] = limits
}

func (m *Manager) SetTradingEnabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingEnabled = v
}

func (m *Manager) Blacklist(symbol string, venue model.Venue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if symbol != "" {
		m.ledger.BlacklistedSymbols[symbol] = true
	}
	if venue != "" {
		m.ledger.BlacklistedVenues[venue] = true
	}
}

// Candidate is the minimal shape evaluate() needs, satisfied by both
// opportunity types via the orchestrator's adaptation layer.
type Candidate struct {
	Kind            model.TradeKind
	Symbol          string
	Venues          []model.Venue
	ProfitPercent   decimal.Decimal
	PositionSize    decimal.Decimal
	BuyVenue        model.Venue
	QuoteCurrency   string
	RequiredQuote   decimal.Decimal
	BaseCurrency    string
	RequiredBase    decimal.Decimal
	HasBaseRequirement bool
}

// Approval is evaluate()'s result: collects every failing reason rather
// than short-circuiting on the first.
type Approval struct {
	Approved bool
	Reasons  []string
}

func (m *Manager) Evaluate(c Candidate, now time.Time) Approval {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDaily(now)

	var reasons []string

	if !m.tradingEnabled {
		reasons = append(reasons, "trading disabled")
	}
	limits, haveLimits := m.kindLimits[c.Kind]
	if !haveLimits || !limits.Enabled {
		reasons = append(reasons, string(c.Kind)+" trading disabled")
	}
	if m.ledger.EmergencyStop {
		reasons = append(reasons, "emergency stop active")
	}
	if m.ledger.BlacklistedSymbols[c.Symbol] {
		reasons = append(reasons, "symbol blacklisted: "+c.Symbol)
	}
	for _, v := range c.Venues {
		if m.ledger.BlacklistedVenues[v] {
			reasons = append(reasons, "venue blacklisted: "+string(v))
		}
	}
	if haveLimits && c.ProfitPercent.LessThan(limits.MinProfitPercent) {
		reasons = append(reasons, "profit below minimum")
	}
	if m.balances != nil {
		if !m.balances.HasAvailable(c.BuyVenue, c.QuoteCurrency, c.RequiredQuote) {
			reasons = append(reasons, "insufficient quote balance")
		}
		// Base is locked on the sell venue; for a cross-venue candidate
		// Venues is [buy, sell].
		baseVenue := c.BuyVenue
		if len(c.Venues) > 1 {
			baseVenue = c.Venues[len(c.Venues)-1]
		}
		if c.HasBaseRequirement && !m.balances.HasAvailable(baseVenue, c.BaseCurrency, c.RequiredBase) {
			reasons = append(reasons, "insufficient base balance")
		}
	}
	if haveLimits && c.PositionSize.GreaterThan(limits.MaxPositionSize) {
		reasons = append(reasons, "position size exceeds limit")
	}
	if haveLimits && m.ledger.ActiveTradesByKind[c.Kind] >= limits.MaxConcurrentTrades {
		reasons = append(reasons, "max concurrent trades for kind reached")
	}
	if m.ledger.DailyTrades >= m.maxDailyTrades {
		reasons = append(reasons, "max daily trades reached")
	}
	if m.ledger.DailyLoss.GreaterThanOrEqual(m.maxDailyLoss) {
		reasons = append(reasons, "max daily loss reached")
		if !m.ledger.EmergencyStop {
			m.ledger.EmergencyStop = true
			if m.OnEmergencyStop != nil {
				go m.OnEmergencyStop("daily loss cap reached")
			}
		}
	}

	if exposureReason, ok := m.checkExposure(c, now); !ok {
		reasons = append(reasons, exposureReason)
	}

	return Approval{Approved: len(reasons) == 0, Reasons: reasons}
}

// checkExposure is the adapted GlobalExposureGuard check: concurrent-cap
// and total-notional cap across all live trades regardless of kind, with
// a cooldown once a symbol has been blocked.
func (m *Manager) checkExposure(c Candidate, now time.Time) (string, bool) {
	if until, ok := m.blockedUntil[c.Symbol]; ok {
		if now.Before(until) {
			return "symbol in exposure cooldown", false
		}
		delete(m.blockedUntil, c.Symbol)
	}

	if len(m.activeNotional) >= m.maxConcurrentTotal {
		return "max concurrent opportunities reached", false
	}

	current := decimal.Zero
	for _, n := range m.activeNotional {
		current = current.Add(n)
	}
	total := current.Add(c.PositionSize)
	if total.GreaterThan(m.maxTotalNotional) {
		m.blockedUntil[c.Symbol] = now.Add(30 * time.Second)
		return "total notional exposure cap exceeded", false
	}
	return "", true
}

func (m *Manager) RegisterExposure(tradeID string, notional decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeNotional[tradeID] = notional
}

func (m *Manager) ReleaseExposure(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeNotional, tradeID)
}

func (m *Manager) IncrementActive(kind model.TradeKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.ActiveTradesByKind[kind]++
}

func (m *Manager) DecrementActive(kind model.TradeKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger.ActiveTradesByKind[kind] > 0 {
		m.ledger.ActiveTradesByKind[kind]--
	}
}

// Record applies the outcome of a completed trade: increments dailyTrades,
// adds to dailyLoss when profit < 0, and trips emergency stop once dailyLoss
// reaches maxDailyLoss. Per spec.md's Open Question, winning trades do not
// update a separate daily-profit counter — kept as-is.
func (m *Manager) Record(profit decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDaily(now)
	m.ledger.DailyTrades++
	if profit.LessThan(decimal.Zero) {
		m.ledger.DailyLoss = m.ledger.DailyLoss.Add(profit.Abs())
		if m.ledger.DailyLoss.GreaterThanOrEqual(m.maxDailyLoss) && !m.ledger.EmergencyStop {
			m.ledger.EmergencyStop = true
			if m.OnEmergencyStop != nil {
				go m.OnEmergencyStop("daily loss cap reached")
			}
		}
	}
}

func (m *Manager) maybeResetDaily(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if m.ledger.LastResetDate == today {
		return
	}
	m.ledger.LastResetDate = today
	m.ledger.DailyTrades = 0
	m.ledger.DailyLoss = decimal.Zero
}

func (m *Manager) EmergencyStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.EmergencyStop
}

// TriggerEmergencyStop lets an operator (via Telegram /stop) set the flag
// directly, mirroring notification_service.go's /stop command handling.
func (m *Manager) TriggerEmergencyStop() {
	m.mu.Lock()
	m.ledger.EmergencyStop = true
	m.mu.Unlock()
}

func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.EmergencyStop = false
}

func (m *Manager) Snapshot() model.RiskLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.ledger
	cp.ActiveTradesByKind = make(map[model.TradeKind]int, len(m.ledger.ActiveTradesByKind))
	for k, v := range m.ledger.ActiveTradesByKind {
		cp.ActiveTradesByKind[k] = v
	}
	return cp
}
