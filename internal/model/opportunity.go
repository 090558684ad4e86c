package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ArbitrageOpportunity is the minimal core record for a cross-venue
// dislocation, per the spec's "split dynamic/optional fields out of the
// core record" design note. Anything purely observational that a caller
// may or may not need (the individual leg walkDepth results, for example)
// lives in ArbitrageOpportunityExtras, not bolted onto this struct.
type ArbitrageOpportunity struct {
	ID                 string
	Symbol             Symbol
	BuyVenue           Venue
	SellVenue          Venue
	BuyPrice           decimal.Decimal
	SellPrice          decimal.Decimal
	EffectiveBuyPrice  decimal.Decimal
	EffectiveSellPrice decimal.Decimal
	BuySlippage        decimal.Decimal
	SellSlippage       decimal.Decimal
	Fees               decimal.Decimal
	RecommendedSize    decimal.Decimal
	AvailableLiquidity decimal.Decimal
	Confidence         float64
	LiquidityScore     float64
	SpreadImpact       float64
	NetProfit          decimal.Decimal
	NetProfitPercent   decimal.Decimal
	CreatedAt          time.Time
}

// ArbitrageOpportunityExtras carries observational detail that detection
// debugging/journaling wants but risk/orchestration never reads.
type ArbitrageOpportunityExtras struct {
	BuyTickAge  time.Duration
	SellTickAge time.Duration
	Estimator   bool // true when produced by the simple bid/ask fallback
}

func NewOpportunityID() string { return uuid.NewString() }

// Key identifies the dedup slot: one live opportunity per (symbol, buy, sell).
func (o ArbitrageOpportunity) Key() string {
	return o.Symbol.String() + "|" + string(o.BuyVenue) + "|" + string(o.SellVenue)
}

func (o ArbitrageOpportunity) ExpiredAt(now time.Time) bool {
	return now.Sub(o.CreatedAt) > 5*time.Minute
}

// TriangularLeg is one hop of a three-leg path.
type TriangularLeg struct {
	Symbol          Symbol
	Direction       Direction
	Price           decimal.Decimal
	EffectivePrice  decimal.Decimal
	Slippage        decimal.Decimal
	Fee             decimal.Decimal
	HasBook         bool
}

// TriangularOpportunity mirrors ArbitrageOpportunity's core/extras split.
type TriangularOpportunity struct {
	ID                string
	Venue             Venue
	Path              [3]Symbol
	Legs              [3]TriangularLeg
	StartAmount       decimal.Decimal
	EndAmount         decimal.Decimal
	Confidence        float64
	ExecutionTimeHint time.Duration
	CreatedAt         time.Time
	Valid             bool
}

func (o TriangularOpportunity) Key() string {
	k := string(o.Venue)
	for _, leg := range o.Legs {
		k += "|" + leg.Symbol.String() + ":" + string(leg.Direction)
	}
	return k
}

func (o TriangularOpportunity) Profit() decimal.Decimal {
	return o.EndAmount.Sub(o.StartAmount)
}

func (o TriangularOpportunity) ExpiredAt(now time.Time) bool {
	return now.Sub(o.CreatedAt) > 30*time.Second
}
