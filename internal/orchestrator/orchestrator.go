// Package orchestrator implements TradeOrchestrator from spec.md 4.7: the
// two trade-kind specializations sharing one state machine. Grounded on
// execution_service.go's ExecuteTrade (risk gate -> lock -> submit ->
// monitor -> record pipeline) and on the design note that heterogeneous
// opportunity kinds should be a tagged variant with a small shared trait,
// not runtime-type inspection.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/balance"
	"whale-radar/internal/execution"
	"whale-radar/internal/journal"
	"whale-radar/internal/model"
	"whale-radar/internal/risk"
)

type Orchestrator struct {
	risk     *risk.Manager
	balances *balance.Ledger
	exec     *execution.Executor
	journal  *journal.Journal

	orderTimeout time.Duration
	pollEvery    time.Duration

	// Notify is invoked (outside any lock) on every terminal TradeAttempt,
	// wired to internal/notify for Telegram alerts.
	Notify func(model.TradeAttempt)
}

func New(r *risk.Manager, b *balance.Ledger, e *execution.Executor, j *journal.Journal, orderTimeout, pollEvery time.Duration) *Orchestrator {
	return &Orchestrator{risk: r, balances: b, exec: e, journal: j, orderTimeout: orderTimeout, pollEvery: pollEvery}
}

func newAttempt(opportunityID string, kind model.TradeKind) model.TradeAttempt {
	return model.TradeAttempt{
		ID:            model.NewOpportunityID(),
		OpportunityID: opportunityID,
		Kind:          kind,
		Status:        model.StatusValidating,
		StartedAt:     time.Now(),
		PreState:      make(map[string]decimal.Decimal),
		PostState:     make(map[string]decimal.Decimal),
	}
}

func (o *Orchestrator) finish(ctx context.Context, attempt *model.TradeAttempt, status model.TradeStatus, errMsg string) {
	attempt.Status = status
	attempt.Err = errMsg
	attempt.EndedAt = time.Now()
	if o.balances != nil {
		attempt.PostState = o.balances.Snapshot()
	}
	if o.journal != nil {
		o.journal.Record(*attempt)
	}
	if o.Notify != nil {
		o.Notify(*attempt)
	}
}

// ExecuteCrossVenue runs the cross-venue flow end to end.
func (o *Orchestrator) ExecuteCrossVenue(ctx context.Context, opp model.ArbitrageOpportunity) model.TradeAttempt {
	attempt := newAttempt(opp.ID, model.KindCrossVenue)
	quoteCurrency := opp.Symbol.Quote
	baseCurrency := opp.Symbol.Base
	requiredQuote := opp.RecommendedSize.Mul(opp.EffectiveBuyPrice)

	candidate := risk.Candidate{
		Kind:               model.KindCrossVenue,
		Symbol:             opp.Symbol.String(),
		Venues:             []model.Venue{opp.BuyVenue, opp.SellVenue},
		ProfitPercent:      opp.NetProfitPercent,
		PositionSize:       requiredQuote,
		BuyVenue:           opp.BuyVenue,
		QuoteCurrency:      quoteCurrency,
		RequiredQuote:      requiredQuote,
		BaseCurrency:       baseCurrency,
		RequiredBase:       opp.RecommendedSize,
		HasBaseRequirement: true,
	}

	approval := o.risk.Evaluate(candidate, time.Now())
	if !approval.Approved {
		o.finish(ctx, &attempt, model.StatusRejected, fmt.Sprintf("risk rejected: %v", approval.Reasons))
		return attempt
	}
	attempt.Status = model.StatusApproved
	if o.balances != nil {
		attempt.PreState = o.balances.Snapshot()
	}

	// 2. Lock quote on buyVenue AND base on sellVenue.
	if err := o.balances.Lock(attempt.ID, opp.BuyVenue, quoteCurrency, requiredQuote); err != nil {
		o.finish(ctx, &attempt, model.StatusFailed, "lock quote failed: "+err.Error())
		return attempt
	}
	if err := o.balances.Lock(attempt.ID, opp.SellVenue, baseCurrency, opp.RecommendedSize); err != nil {
		o.balances.Unlock(attempt.ID, opp.BuyVenue, quoteCurrency)
		o.finish(ctx, &attempt, model.StatusFailed, "lock base failed: "+err.Error())
		return attempt
	}
	defer func() {
		o.balances.Unlock(attempt.ID, opp.BuyVenue, quoteCurrency)
		o.balances.Unlock(attempt.ID, opp.SellVenue, baseCurrency)
		o.risk.DecrementActive(model.KindCrossVenue)
		o.risk.ReleaseExposure(attempt.ID)
		if o.balances != nil {
			o.balances.RefreshAll(ctx)
		}
	}()

	o.risk.IncrementActive(model.KindCrossVenue)
	o.risk.RegisterExposure(attempt.ID, requiredQuote)

	// 4. Submit both orders in parallel.
	attempt.Status = model.StatusExecuting
	type legResult struct {
		order model.ExecutedOrder
		err   error
	}
	buyCh := make(chan legResult, 1)
	sellCh := make(chan legResult, 1)

	go func() {
		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.BuyVenue, Symbol: opp.Symbol, Side: model.DirBuy,
			Amount: opp.RecommendedSize, IsMarket: true,
		})
		buyCh <- legResult{order, err}
	}()
	go func() {
		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.SellVenue, Symbol: opp.Symbol, Side: model.DirSell,
			Amount: opp.RecommendedSize, IsMarket: true,
		})
		sellCh <- legResult{order, err}
	}()

	buyRes := <-buyCh
	sellRes := <-sellCh

	// 5. Monitor to terminal state.
	attempt.Status = model.StatusMonitoring
	var buyOrder, sellOrder model.ExecutedOrder
	var buyOK, sellOK bool

	if buyRes.err == nil {
		buyOrder, buyRes.err = o.exec.WaitForTerminal(ctx, opp.BuyVenue, opp.Symbol, buyRes.order.OrderID, o.orderTimeout, o.pollEvery)
		buyOK = buyRes.err == nil && buyOrder.Status == "closed"
	}
	if sellRes.err == nil {
		sellOrder, sellRes.err = o.exec.WaitForTerminal(ctx, opp.SellVenue, opp.Symbol, sellRes.order.OrderID, o.orderTimeout, o.pollEvery)
		sellOK = sellRes.err == nil && sellOrder.Status == "closed"
	}
	attempt.Orders = []model.ExecutedOrder{buyOrder, sellOrder}

	switch {
	case buyOK && sellOK:
		// 6. Realized profit.
		buyCost := buyOrder.FilledQty.Mul(buyOrder.AvgPrice)
		sellCost := sellOrder.FilledQty.Mul(sellOrder.AvgPrice)
		realized := sellCost.Sub(sellOrder.Fee).Sub(buyCost.Add(buyOrder.Fee))
		attempt.RealizedProfit = realized
		o.risk.Record(realized, time.Now())
		o.finish(ctx, &attempt, model.StatusCompleted, "")
	case buyOK != sellOK:
		// 8. One leg filled, one didn't: PARTIAL, no automatic rollback.
		if !sellOK {
			o.exec.Cancel(ctx, opp.SellVenue, opp.Symbol, sellRes.order.OrderID)
		} else {
			o.exec.Cancel(ctx, opp.BuyVenue, opp.Symbol, buyRes.order.OrderID)
		}
		o.finish(ctx, &attempt, model.StatusPartial, "one leg filled, the other did not — manual reconciliation required")
	default:
		o.finish(ctx, &attempt, model.StatusFailed, "both legs failed")
	}

	return attempt
}

// ExecuteTriangular runs the triangular flow: legs run sequentially, each
// leg's output feeding the next leg's input amount.
func (o *Orchestrator) ExecuteTriangular(ctx context.Context, opp model.TriangularOpportunity) model.TradeAttempt {
	attempt := newAttempt(opp.ID, model.KindTriangular)
	startCurrency := opp.Legs[0].Symbol.Quote
	if opp.Legs[0].Direction == model.DirSell {
		startCurrency = opp.Legs[0].Symbol.Base
	}

	candidate := risk.Candidate{
		Kind:          model.KindTriangular,
		Symbol:        opp.Path[0].String(),
		Venues:        []model.Venue{opp.Venue},
		ProfitPercent: opp.Profit().Div(opp.StartAmount).Mul(decimal.NewFromInt(100)),
		PositionSize:  opp.StartAmount,
		BuyVenue:      opp.Venue,
		QuoteCurrency: startCurrency,
		RequiredQuote: opp.StartAmount,
	}

	approval := o.risk.Evaluate(candidate, time.Now())
	if !approval.Approved {
		o.finish(ctx, &attempt, model.StatusRejected, fmt.Sprintf("risk rejected: %v", approval.Reasons))
		return attempt
	}
	attempt.Status = model.StatusApproved
	if o.balances != nil {
		attempt.PreState = o.balances.Snapshot()
	}

	if err := o.balances.Lock(attempt.ID, opp.Venue, startCurrency, opp.StartAmount); err != nil {
		o.finish(ctx, &attempt, model.StatusFailed, "lock start currency failed: "+err.Error())
		return attempt
	}
	defer func() {
		o.balances.Unlock(attempt.ID, opp.Venue, startCurrency)
		o.risk.DecrementActive(model.KindTriangular)
		o.risk.ReleaseExposure(attempt.ID)
		if o.balances != nil {
			o.balances.RefreshAll(ctx)
		}
	}()

	o.risk.IncrementActive(model.KindTriangular)
	o.risk.RegisterExposure(attempt.ID, opp.StartAmount)

	attempt.Status = model.StatusExecuting
	amount := opp.StartAmount
	var orders []model.ExecutedOrder

	for i, leg := range opp.Legs {
		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.Venue, Symbol: leg.Symbol, Side: leg.Direction, Amount: amount, IsMarket: true,
		})
		if err != nil {
			attempt.Orders = orders
			o.finish(ctx, &attempt, model.StatusFailed, fmt.Sprintf("leg %d submit failed: %v", i+1, err))
			return attempt
		}

		attempt.Status = model.StatusMonitoring
		terminal, err := o.exec.WaitForTerminal(ctx, opp.Venue, leg.Symbol, order.OrderID, o.orderTimeout, o.pollEvery)
		orders = append(orders, terminal)
		if err != nil || terminal.Status != "closed" {
			attempt.Orders = orders
			o.finish(ctx, &attempt, model.StatusFailed,
				fmt.Sprintf("leg %d failed to fill — currency position left intermediate, no automatic unwind", i+1))
			return attempt
		}

		if leg.Direction == model.DirBuy {
			amount = terminal.FilledQty
		} else {
			amount = terminal.FilledQty.Mul(terminal.AvgPrice).Sub(terminal.Fee)
		}
	}

	endAmount := amount
	realized := endAmount.Sub(opp.StartAmount)
	attempt.RealizedProfit = realized
	attempt.Orders = orders
	o.risk.Record(realized, time.Now())
	o.finish(ctx, &attempt, model.StatusCompleted, "")
	return attempt
}
