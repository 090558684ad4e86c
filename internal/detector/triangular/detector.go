// Package triangular implements the TriangularDetector from spec.md 4.4.
// Grounded the same way as internal/detector/cross: signal_filter.go's
// scored-clustering idiom for the confidence formula, and the decimal
// conversion-chain math from the 31edc147_s2ungeda-cexoms arbitrage
// detector for the per-leg walk/fee deduction shape.
package triangular

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/book"
	"whale-radar/internal/model"
)

type bookKeeper interface {
	Book(venue model.Venue, symbol model.Symbol) *book.Replica
}

type tickSource interface {
	FreshTick(venue model.Venue, symbol model.Symbol, now time.Time, ttl time.Duration) (model.PriceTick, bool)
}

// Path is one fixed three-leg cycle configured at startup, e.g.
// USDT -> BTC -> ETH -> USDT.
type Path struct {
	Venue      model.Venue
	Legs       [3]model.Symbol
	Directions [3]model.Direction
	MinAmount  decimal.Decimal
}

type Config struct {
	TickTTL            time.Duration // 2s
	MaxSlippagePerLeg  decimal.Decimal
	MaxSlippageTotal   decimal.Decimal
	MinProfitPercent   decimal.Decimal
	TakerFee           decimal.Decimal // 0.10%
	ThrottlePerPath    time.Duration   // 100ms
	GCAfter            time.Duration   // 30s
}

func DefaultConfig() Config {
	return Config{
		TickTTL:           2 * time.Second,
		MaxSlippagePerLeg: decimal.NewFromFloat(0.5),
		MaxSlippageTotal:  decimal.NewFromFloat(1.0),
		MinProfitPercent:  decimal.NewFromFloat(0.8),
		TakerFee:          decimal.NewFromFloat(0.0010),
		ThrottlePerPath:   100 * time.Millisecond,
		GCAfter:           30 * time.Second,
	}
}

type Detector struct {
	cfg   Config
	ticks tickSource
	books bookKeeper
	paths []Path

	mu         sync.Mutex
	live       map[string]model.TriangularOpportunity
	lastRun    map[string]time.Time

	Found func(model.TriangularOpportunity)
}

func New(cfg Config, paths []Path, ticks tickSource, books bookKeeper) *Detector {
	return &Detector{
		cfg:     cfg,
		ticks:   ticks,
		books:   books,
		paths:   paths,
		live:    make(map[string]model.TriangularOpportunity),
		lastRun: make(map[string]time.Time),
	}
}

// OnTick runs every path whose legs include the ticked symbol, throttled
// per path.
func (d *Detector) OnTick(t model.PriceTick) {
	now := time.Now()
	for _, p := range d.paths {
		if p.Venue != t.Venue {
			continue
		}
		matches := false
		for _, leg := range p.Legs {
			if leg == t.Symbol {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}

		pathKey := pathKey(p)
		d.mu.Lock()
		last, ok := d.lastRun[pathKey]
		if ok && now.Sub(last) < d.cfg.ThrottlePerPath {
			d.mu.Unlock()
			continue
		}
		d.lastRun[pathKey] = now
		d.mu.Unlock()

		d.evaluate(p, now)
	}
}

func pathKey(p Path) string {
	k := string(p.Venue)
	for i := range p.Legs {
		k += "|" + p.Legs[i].String() + ":" + string(p.Directions[i])
	}
	return k
}

func (d *Detector) evaluate(p Path, now time.Time) {
	var legTicks [3]model.PriceTick
	for i, sym := range p.Legs {
		t, ok := d.ticks.FreshTick(p.Venue, sym, now, d.cfg.TickTTL)
		if !ok {
			return
		}
		legTicks[i] = t
	}

	amount := p.MinAmount
	start := amount
	var legs [3]model.TriangularLeg
	totalSlippage := decimal.Zero
	totalTickAgeMs := int64(0)
	booksPresent := 0
	spreadSum := 0.0

	for i, sym := range p.Legs {
		dir := p.Directions[i]
		replica := d.books.Book(p.Venue, sym)
		hasBook := !replica.StaleAfter(now, d.cfg.TickTTL)

		var effective decimal.Decimal
		var slippage decimal.Decimal
		if hasBook {
			side := model.SideAsk
			if dir == model.DirSell {
				side = model.SideBid
			}
			walk := replica.WalkDepth(side, amount)
			if !walk.Feasible {
				return
			}
			effective = walk.EffectivePrice
			if dir == model.DirBuy {
				slippage = effective.Sub(legTicks[i].Last).Div(legTicks[i].Last).Mul(decimal.NewFromInt(100)).Abs()
			} else {
				slippage = legTicks[i].Last.Sub(effective).Div(legTicks[i].Last).Mul(decimal.NewFromInt(100)).Abs()
			}
			booksPresent++
			top := replica.TopOfBook()
			if top.OK {
				spreadSum += toFloat(top.Ask.Sub(top.Bid)) / toFloat(legTicks[i].Last) * 100
			}
		} else {
			// No book: use ask/bid, falling back to last*(1+/-0.0005).
			if dir == model.DirBuy {
				if legTicks[i].Ask.GreaterThan(decimal.Zero) {
					effective = legTicks[i].Ask
				} else {
					effective = legTicks[i].Last.Mul(decimal.NewFromFloat(1.0005))
				}
			} else {
				if legTicks[i].Bid.GreaterThan(decimal.Zero) {
					effective = legTicks[i].Bid
				} else {
					effective = legTicks[i].Last.Mul(decimal.NewFromFloat(0.9995))
				}
			}
			slippage = decimal.Zero
		}

		if slippage.GreaterThan(d.cfg.MaxSlippagePerLeg) {
			return
		}
		totalSlippage = totalSlippage.Add(slippage)
		totalTickAgeMs += now.Sub(legTicks[i].Timestamp).Milliseconds()

		fee := decimal.Zero
		if dir == model.DirBuy {
			amount = amount.Div(effective)
			fee = amount.Mul(d.cfg.TakerFee)
			amount = amount.Sub(fee)
		} else {
			amount = amount.Mul(effective)
			fee = amount.Mul(d.cfg.TakerFee)
			amount = amount.Sub(fee)
		}

		legs[i] = model.TriangularLeg{
			Symbol: sym, Direction: dir, Price: legTicks[i].Last,
			EffectivePrice: effective, Slippage: slippage, Fee: fee, HasBook: hasBook,
		}
	}

	endAmount := amount
	profit := endAmount.Sub(start)
	if !profit.GreaterThan(decimal.Zero) {
		return
	}
	if totalSlippage.GreaterThan(d.cfg.MaxSlippageTotal) {
		return
	}
	profitPercent := profit.Div(start).Mul(decimal.NewFromInt(100))
	if profitPercent.LessThan(d.cfg.MinProfitPercent) {
		return
	}

	// Confidence: start at 100.
	confidence := 100.0
	avgTickAgeMs := float64(totalTickAgeMs) / 3
	confidence -= minF(20, avgTickAgeMs/100)
	confidence -= toFloat(totalSlippage) / toFloat(d.cfg.MaxSlippageTotal) * 30
	confidence += minF(20, toFloat(profitPercent)*4)

	bookPenalty := 0.0
	if booksPresent < 3 {
		bookPenalty += float64(3-booksPresent) * 5
	}
	if booksPresent > 0 {
		bookPenalty += minF(10, spreadSum/float64(booksPresent)*100)
	}
	confidence -= minF(20, bookPenalty)
	confidence = clamp(confidence, 0, 100)

	opp := model.TriangularOpportunity{
		ID:                model.NewOpportunityID(),
		Venue:             p.Venue,
		Path:              p.Legs,
		Legs:              legs,
		StartAmount:       start,
		EndAmount:         endAmount,
		Confidence:        confidence,
		ExecutionTimeHint: 3 * time.Second,
		CreatedAt:         now,
		Valid:             true,
	}
	d.register(opp)
}

func (d *Detector) register(opp model.TriangularOpportunity) {
	d.mu.Lock()
	key := opp.Key()
	existing, exists := d.live[key]
	if exists && existing.Profit().GreaterThanOrEqual(opp.Profit()) {
		d.mu.Unlock()
		return
	}
	d.live[key] = opp

	now := opp.CreatedAt
	for k, o := range d.live {
		if now.Sub(o.CreatedAt) > d.cfg.GCAfter {
			delete(d.live, k)
		}
	}
	d.mu.Unlock()

	log.Printf("🔺 triangular opportunity: %s %v profit=%s confidence=%.1f",
		opp.Venue, opp.Path, opp.Profit().StringFixed(6), opp.Confidence)

	if d.Found != nil {
		d.Found(opp)
	}
}

func (d *Detector) Live() []model.TriangularOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.TriangularOpportunity, 0, len(d.live))
	for _, o := range d.live {
		out = append(out, o)
	}
	return out
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
