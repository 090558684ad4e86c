// Package cross implements the CrossVenueDetector from spec.md 4.3.
// Grounded on signal_filter.go's weighted cluster-confirmation scoring
// (the same shape of "several float factors, each scaled and summed"
// this detector's confidence score uses) and on
// _examples/other_examples/31edc147_s2ungeda-cexoms's decimal-based
// ArbitrageDetector, the closest pack match for fee/slippage/profit math
// over shopspring/decimal.
package cross

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
	VenuesForSymbol(symbol model.Symbol) []model.Venue
}

// Config holds the tunables spec.md names explicitly.
type Config struct {
	MinLiquidity       decimal.Decimal // default 1000
	MaxInvestment      decimal.Decimal // operator-configured cap on trade value
	MaxSlippagePercent decimal.Decimal // default 1.0
	MinConfidence      float64         // default 60
	MinLiquidityScore  float64         // default 50
	TickTTL            time.Duration   // 10s book/tick guard
	GCAfter            time.Duration   // 5 minutes

	// Debounce is the minimum interval between two Found callbacks for the
	// same (symbol, buy, sell) key, absorbing bursty re-evaluation across
	// both legs' tick streams without masking a genuine confidence
	// improvement for long. Configurable via ARB_DEBOUNCE_MS, default 750ms.
	Debounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinLiquidity:       decimal.NewFromInt(1000),
		MaxInvestment:      decimal.NewFromInt(1000),
		MaxSlippagePercent: decimal.NewFromFloat(1.0),
		MinConfidence:      60,
		MinLiquidityScore:  50,
		TickTTL:            10 * time.Second,
		GCAfter:            5 * time.Minute,
		Debounce:           750 * time.Millisecond,
	}
}

// Detector holds the live opportunity set, one winner per (symbol, buy, sell).
type Detector struct {
	cfg   Config
	ticks tickSource
	books bookKeeper

	mu       sync.Mutex
	live     map[string]model.ArbitrageOpportunity
	lastEmit map[string]time.Time

	// Found is invoked (outside the lock) whenever a new or replacing
	// opportunity is registered — the orchestrator subscribes here.
	Found func(model.ArbitrageOpportunity)
}

func New(cfg Config, ticks tickSource, books bookKeeper) *Detector {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 750 * time.Millisecond
	}
	return &Detector{
		cfg:      cfg,
		ticks:    ticks,
		books:    books,
		live:     make(map[string]model.ArbitrageOpportunity),
		lastEmit: make(map[string]time.Time),
	}
}

// OnTick is wired as registry.OnTick and runs the full detector pass for
// every other venue currently quoting this symbol.
func (d *Detector) OnTick(t model.PriceTick) {
	now := time.Now()
	venues := d.ticks.VenuesForSymbol(t.Symbol)
	for _, other := range venues {
		if other == t.Venue {
			continue
		}
		d.evaluatePair(t.Symbol, t.Venue, other, now)
		d.evaluatePair(t.Symbol, other, t.Venue, now)
	}
}

func (d *Detector) evaluatePair(symbol model.Symbol, vBuy, vSell model.Venue, now time.Time) {
	buyTick, ok1 := d.ticks.FreshTick(vBuy, symbol, now, d.cfg.TickTTL)
	sellTick, ok2 := d.ticks.FreshTick(vSell, symbol, now, d.cfg.TickTTL)
	if !ok1 || !ok2 {
		return
	}

	// 1. Require sellPrice > buyPrice at last trade.
	if !sellTick.Last.GreaterThan(buyTick.Last) {
		return
	}

	buyBook := d.books.Book(vBuy, symbol)
	sellBook := d.books.Book(vSell, symbol)
	buyFresh := !buyBook.StaleAfter(now, d.cfg.TickTTL)
	sellFresh := !sellBook.StaleAfter(now, d.cfg.TickTTL)

	var opp model.ArbitrageOpportunity
	var ok bool
	if !buyFresh || !sellFresh {
		opp, ok = d.estimatorOpportunity(symbol, vBuy, vSell, buyTick, sellTick, now)
	} else {
		opp, ok = d.fullOpportunity(symbol, vBuy, vSell, buyTick, sellTick, buyBook, sellBook, now)
	}
	if !ok {
		return
	}
	d.register(opp)
}

// estimatorOpportunity is step 2's simple estimator: bid/ask half-spread
// as slippage proxy, price*venueFee for fees.
func (d *Detector) estimatorOpportunity(symbol model.Symbol, vBuy, vSell model.Venue, buyTick, sellTick model.PriceTick, now time.Time) (model.ArbitrageOpportunity, bool) {
	buyFeeRate := decimal.RequireFromString(model.TakerFeeRate(vBuy))
	sellFeeRate := decimal.RequireFromString(model.TakerFeeRate(vSell))

	buyFee := buyTick.Last.Mul(buyFeeRate)
	sellFee := sellTick.Last.Mul(sellFeeRate)
	netProfitPerUnit := sellTick.Last.Sub(buyTick.Last).Sub(buyFee).Sub(sellFee)
	if !netProfitPerUnit.GreaterThan(decimal.Zero) {
		return model.ArbitrageOpportunity{}, false
	}

	return model.ArbitrageOpportunity{
		ID:                 model.NewOpportunityID(),
		Symbol:             symbol,
		BuyVenue:           vBuy,
		SellVenue:          vSell,
		BuyPrice:           buyTick.Last,
		SellPrice:          sellTick.Last,
		EffectiveBuyPrice:  buyTick.Last,
		EffectiveSellPrice: sellTick.Last,
		Fees:               buyFee.Add(sellFee),
		Confidence:         50,
		LiquidityScore:     50,
		NetProfit:          netProfitPerUnit,
		NetProfitPercent:   netProfitPerUnit.Div(buyTick.Last).Mul(decimal.NewFromInt(100)),
		CreatedAt:          now,
	}, true
}

func (d *Detector) fullOpportunity(symbol model.Symbol, vBuy, vSell model.Venue, buyTick, sellTick model.PriceTick, buyBook, sellBook *book.Replica, now time.Time) (model.ArbitrageOpportunity, bool) {
	// 3. Available liquidity.
	askVol := buyBook.TotalVolume(model.SideAsk)
	bidVol := sellBook.TotalVolume(model.SideBid)
	availableLiquidity := decimal.Min(askVol.Mul(buyTick.Last), bidVol.Mul(sellTick.Last))
	if availableLiquidity.LessThan(d.cfg.MinLiquidity) {
		return model.ArbitrageOpportunity{}, false
	}

	// 4. Trade size.
	tenPct := availableLiquidity.Mul(decimal.NewFromFloat(0.10))
	tradeValue := decimal.Min(d.cfg.MaxInvestment, tenPct)
	if tradeValue.LessThanOrEqual(decimal.Zero) {
		return model.ArbitrageOpportunity{}, false
	}
	baseAmount := tradeValue.Div(buyTick.Last)

	// 5. Walk both depths.
	buyWalk := buyBook.WalkDepth(model.SideAsk, baseAmount)
	sellWalk := sellBook.WalkDepth(model.SideBid, baseAmount)
	if !buyWalk.Feasible || !sellWalk.Feasible {
		return model.ArbitrageOpportunity{}, false
	}

	// 6. Slippage percent.
	buySlipAbs := buyWalk.EffectivePrice.Sub(buyTick.Last)
	sellSlipAbs := sellTick.Last.Sub(sellWalk.EffectivePrice)
	slippagePercent := buySlipAbs.Add(sellSlipAbs).Div(buyTick.Last).Mul(decimal.NewFromInt(100))
	if slippagePercent.GreaterThan(d.cfg.MaxSlippagePercent) {
		return model.ArbitrageOpportunity{}, false
	}

	// 7. Fees.
	buyFeeRate := decimal.RequireFromString(model.TakerFeeRate(vBuy))
	sellFeeRate := decimal.RequireFromString(model.TakerFeeRate(vSell))
	buyFee := buyWalk.EffectivePrice.Mul(buyFeeRate)
	sellFee := sellWalk.EffectivePrice.Mul(sellFeeRate)

	// 8. Net profit.
	netProfit := sellWalk.EffectivePrice.Sub(buyWalk.EffectivePrice).Mul(baseAmount).Sub(buyFee).Sub(sellFee)
	if !netProfit.GreaterThan(decimal.Zero) {
		return model.ArbitrageOpportunity{}, false
	}
	netProfitPercent := netProfit.Div(tradeValue).Mul(decimal.NewFromInt(100))

	// 9. Confidence score.
	buyAge := now.Sub(buyTick.Timestamp)
	sellAge := now.Sub(sellTick.Timestamp)
	ageFactor := maxF(0, 100-float64(buyAge.Milliseconds()+sellAge.Milliseconds())/200) * 0.15

	liquidityScore := minF(100, toFloat(availableLiquidity)/toFloat(d.cfg.MinLiquidity)*100)
	liquidityFactor := liquidityScore * 0.30

	profitPercentF := toFloat(netProfitPercent)
	profitFactor := minF(100, profitPercentF*20) * 0.25

	avgSpreadPercent := (toFloat(buyTick.Ask.Sub(buyTick.Bid))/toFloat(buyTick.Last) +
		toFloat(sellTick.Ask.Sub(sellTick.Bid))/toFloat(sellTick.Last)) / 2 * 100
	spreadFactor := maxF(0, 100-avgSpreadPercent*100) * 0.15

	totalSlippagePercent := toFloat(slippagePercent)
	slippageFactor := maxF(0, 100-totalSlippagePercent*50) * 0.15

	confidence := ageFactor + liquidityFactor + profitFactor + spreadFactor + slippageFactor

	if confidence < d.cfg.MinConfidence || liquidityScore < d.cfg.MinLiquidityScore {
		return model.ArbitrageOpportunity{}, false
	}

	return model.ArbitrageOpportunity{
		ID:                 model.NewOpportunityID(),
		Symbol:             symbol,
		BuyVenue:           vBuy,
		SellVenue:          vSell,
		BuyPrice:           buyTick.Last,
		SellPrice:          sellTick.Last,
		EffectiveBuyPrice:  buyWalk.EffectivePrice,
		EffectiveSellPrice: sellWalk.EffectivePrice,
		BuySlippage:        buySlipAbs,
		SellSlippage:       sellSlipAbs,
		Fees:               buyFee.Add(sellFee),
		RecommendedSize:    baseAmount,
		AvailableLiquidity: availableLiquidity,
		Confidence:         confidence,
		LiquidityScore:     liquidityScore,
		SpreadImpact:       avgSpreadPercent,
		NetProfit:          netProfit,
		NetProfitPercent:   netProfitPercent,
		CreatedAt:          now,
	}, true
}

// register applies the dedup + GC rule from step 10.
func (d *Detector) register(opp model.ArbitrageOpportunity) {
	d.mu.Lock()
	key := opp.Key()
	existing, exists := d.live[key]
	if exists && existing.Confidence >= opp.Confidence {
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

	if last, ok := d.lastEmit[key]; ok && now.Sub(last) < d.cfg.Debounce {
		d.mu.Unlock()
		return
	}
	d.lastEmit[key] = now
	d.mu.Unlock()

	log.Printf("🔔 cross-venue opportunity: %s buy@%s sell@%s profit=%s (%.1f%%) confidence=%.1f",
		opp.Symbol, opp.BuyVenue, opp.SellVenue, opp.NetProfit.StringFixed(4), toFloat(opp.NetProfitPercent), opp.Confidence)

	if d.Found != nil {
		d.Found(opp)
	}
}

func (d *Detector) Live() []model.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.ArbitrageOpportunity, 0, len(d.live))
	for _, o := range d.live {
		out = append(out, o)
	}
	return out
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
