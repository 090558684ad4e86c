// Command scanner runs the arbitrage scanner: streams normalized market
// data from every configured venue, runs both detectors over it, and
// (when trading is enabled) drives approved opportunities through the
// trade orchestrator. Wiring style follows main.go's service-composition
// shape — construct each service, start its goroutine, wire its channels
// — generalized from the teacher's single-venue whale-signal pipeline to
// the multi-venue, multi-detector pipeline this system needs.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"whale-radar/internal/balance"
	"whale-radar/internal/config"
	"whale-radar/internal/detector/cross"
	"whale-radar/internal/detector/triangular"
	"whale-radar/internal/exchange"
	"whale-radar/internal/exchange/binance"
	"whale-radar/internal/exchange/bybit"
	"whale-radar/internal/exchange/coinbase"
	"whale-radar/internal/exchange/kraken"
	"whale-radar/internal/execution"
	"whale-radar/internal/journal"
	"whale-radar/internal/model"
	"whale-radar/internal/notify"
	"whale-radar/internal/orchestrator"
	"whale-radar/internal/registry"
	"whale-radar/internal/risk"
)

// trackedSymbols mirrors main.go's SafetyConfig.Profiles set — the fixed
// coin list this deployment watches across every venue.
var trackedSymbols = []model.Symbol{
	model.NewSymbol("BTC", "USDT"),
	model.NewSymbol("ETH", "USDT"),
	model.NewSymbol("SOL", "USDT"),
}

func main() {
	log.Println("🛡️ ARBITRAGE SCANNER ACTIVE")
	log.Println("🚀 Whale Radar Arbitrage Engine Starting...")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()

	tickCh := make(chan model.PriceTick, 4096)
	invalidateCh := make(chan model.BookInvalidate, 256)
	connLostCh := make(chan model.ConnectionLost, 64)
	events := exchange.Events{Ticks: tickCh, Invalidate: invalidateCh, ConnLost: connLostCh}

	// --- balances -----------------------------------------------------
	binanceTrading := binance.NewTradingClient(cfg.Venues[model.VenueBinance].APIKey, cfg.Venues[model.VenueBinance].APISecret)
	coinbaseTrading := coinbase.NewTradingClient(cfg.Venues[model.VenueCoinbase].APIKey, cfg.Venues[model.VenueCoinbase].APISecret)
	krakenTrading := kraken.NewTradingClient(cfg.Venues[model.VenueKraken].APIKey, cfg.Venues[model.VenueKraken].APISecret)
	bybitTrading := bybit.NewTradingClient(cfg.Venues[model.VenueBybit].APIKey, cfg.Venues[model.VenueBybit].APISecret)

	ledger := balance.New([]balance.Fetcher{binanceTrading, coinbaseTrading, krakenTrading, bybitTrading}, cfg.BalanceRefreshEvery)
	ledger.RefreshAll(ctx)
	go ledger.Run(ctx)

	// --- risk -----------------------------------------------------------
	riskMgr := risk.NewManager(cfg.MaxDailyTrades, cfg.MaxDailyLoss, cfg.CrossMaxConcurrent+cfg.TriangularMaxConcurrent,
		cfg.CrossMaxPosition.Add(cfg.TriangularMaxPosition), ledger)
	riskMgr.SetTradingEnabled(cfg.TradingEnabled)
	riskMgr.SetKindLimits(model.KindCrossVenue, risk.KindLimits{
		Enabled:             cfg.CrossTradingEnabled,
		MinProfitPercent:    cfg.CrossMinProfit,
		MaxPositionSize:     cfg.CrossMaxPosition,
		MaxConcurrentTrades: cfg.CrossMaxConcurrent,
	})
	riskMgr.SetKindLimits(model.KindTriangular, risk.KindLimits{
		Enabled:             cfg.TriangularTradingEnabled,
		MinProfitPercent:    cfg.TriangularMinProfit,
		MaxPositionSize:     cfg.TriangularMaxPosition,
		MaxConcurrentTrades: cfg.TriangularMaxConcurrent,
	})
	for _, s := range cfg.BlacklistedSymbols {
		riskMgr.Blacklist(s, "")
	}
	for _, v := range cfg.BlacklistedExchanges {
		riskMgr.Blacklist("", v)
	}

	// --- notify ----------------------------------------------------------
	notifier := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	riskMgr.OnEmergencyStop = func(reason string) {
		if notifier != nil {
			notifier.Notify("🛑 *EMERGENCY STOP*: " + reason)
		}
	}

	// --- journal -----------------------------------------------------
	journ, err := journal.New(cfg.JournalDir)
	if err != nil {
		log.Fatalf("❌ journal init failed: %v", err)
	}
	defer journ.Close()

	// --- execution ------------------------------------------------------
	exec := execution.New([]execution.TradingClient{binanceTrading, coinbaseTrading, krakenTrading, bybitTrading})

	orch := orchestrator.New(riskMgr, ledger, exec, journ, cfg.OrderTimeout, 500*time.Millisecond)
	orch.Notify = func(a model.TradeAttempt) {
		if notifier != nil {
			notifier.NotifyAttempt(a)
		}
	}

	// --- detectors --------------------------------------------------
	crossCfg := cross.DefaultConfig()
	crossCfg.MaxInvestment = cfg.CrossMaxPosition
	crossCfg.MinConfidence = 60
	crossCfg.Debounce = cfg.ArbDebounce
	crossDetector := cross.New(crossCfg, reg, reg)
	crossDetector.Found = func(opp model.ArbitrageOpportunity) {
		if !cfg.TradingEnabled || !cfg.CrossTradingEnabled {
			return
		}
		go orch.ExecuteCrossVenue(ctx, opp)
	}

	triPaths := []triangular.Path{
		{
			Venue: model.VenueBinance,
			Legs: [3]model.Symbol{
				model.NewSymbol("BTC", "USDT"),
				model.NewSymbol("ETH", "BTC"),
				model.NewSymbol("ETH", "USDT"),
			},
			Directions: [3]model.Direction{model.DirBuy, model.DirBuy, model.DirSell},
			MinAmount:  decimal.NewFromInt(100),
		},
	}
	triCfg := triangular.DefaultConfig()
	triCfg.MinProfitPercent = cfg.TriangularMinProfit
	triDetector := triangular.New(triCfg, triPaths, reg, reg)
	triDetector.Found = func(opp model.TriangularOpportunity) {
		if !cfg.TradingEnabled || !cfg.TriangularTradingEnabled {
			return
		}
		go orch.ExecuteTriangular(ctx, opp)
	}

	reg.OnTick = func(t model.PriceTick) {
		crossDetector.OnTick(t)
		triDetector.OnTick(t)
	}

	// --- exchange adapters -----------------------------------------
	adapters := []exchange.Adapter{
		binance.NewAdapter(cfg.Venues[model.VenueBinance].APIKey, cfg.Venues[model.VenueBinance].APISecret, reg, events, 5),
		coinbase.NewAdapter(reg, events, 5),
		kraken.NewAdapter(reg, events, 5),
		bybit.NewAdapter(reg, events, 5),
	}
	for _, a := range adapters {
		a := a
		go func() {
			if err := a.Start(ctx, trackedSymbols); err != nil && ctx.Err() == nil {
				log.Printf("⚠️ %s adapter exited: %v", a.Venue(), err)
			}
		}()
	}

	// --- tick fan-in: registry write + detector trigger --------------
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-tickCh:
				reg.StoreTick(t)
			case inv := <-invalidateCh:
				log.Printf("⚠️ book invalidated: %s %s: %s", inv.Venue, inv.Symbol, inv.Reason)
			case lost := <-connLostCh:
				log.Printf("⚠️ connection lost: %s: %v", lost.Venue, lost.Err)
				if notifier != nil {
					notifier.Notify("⚠️ Connection lost: " + string(lost.Venue))
				}
			}
		}
	}()

	// --- telegram command listener -----------------------------------
	if notifier != nil {
		go notifier.StartEventListener(notify.Callbacks{
			Status: func() string {
				snap := riskMgr.Snapshot()
				return journ.DailyReport(cfg.MaxDailyLoss) + "\n\nDaily trades: " + decimal.NewFromInt(int64(snap.DailyTrades)).String()
			},
			Report: func() string { return journ.DailyReport(cfg.MaxDailyLoss) },
			Stop:   riskMgr.TriggerEmergencyStop,
			ApproveCrossVenue: func(opp model.ArbitrageOpportunity) {
				go orch.ExecuteCrossVenue(ctx, opp)
			},
			ApproveTriangular: func(opp model.TriangularOpportunity) {
				go orch.ExecuteTriangular(ctx, opp)
			},
		})
	}

	// --- daily summary at UTC rollover --------------------------------
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if now.UTC().Hour() == 23 && now.UTC().Minute() == 59 {
					if err := journ.WriteEndOfDaySummary(now, cfg.MaxDailyLoss); err != nil {
						log.Printf("⚠️ daily summary write failed: %v", err)
					}
					if notifier != nil {
						notifier.Notify(journ.DailyReport(cfg.MaxDailyLoss))
					}
				}
			}
		}
	}()

	log.Println("✅ All systems go")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("🛑 Shutdown signal received, draining...")
	cancel()
	for _, a := range adapters {
		a.Stop()
	}
	time.Sleep(500 * time.Millisecond)
	if err := journ.WriteEndOfDaySummary(time.Now(), cfg.MaxDailyLoss); err != nil {
		log.Printf("⚠️ daily summary write failed: %v", err)
	}
	log.Println("✅ Shutdown complete")
}
