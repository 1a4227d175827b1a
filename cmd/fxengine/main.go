// fxengine is an automated perpetual-futures execution and risk engine for
// a single Bitget account: it turns external trade signals into sized,
// bracketed orders, enforces the admission gates of spec C3, and drives a
// background monitor per open position until it closes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/audit"
	"github.com/web3guy0/fxengine/internal/balance"
	"github.com/web3guy0/fxengine/internal/clock"
	"github.com/web3guy0/fxengine/internal/config"
	"github.com/web3guy0/fxengine/internal/feed"
	"github.com/web3guy0/fxengine/internal/journal"
	"github.com/web3guy0/fxengine/internal/monitor"
	"github.com/web3guy0/fxengine/internal/notifier"
	"github.com/web3guy0/fxengine/internal/trademanager"
	"github.com/web3guy0/fxengine/internal/venue"
	"github.com/web3guy0/fxengine/risk"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", version).Bool("paper_trading", cfg.PaperTrading).Msg("fxengine starting...")

	venueClient := venue.NewClient(cfg.BitgetAPIKey, cfg.BitgetSecretKey, cfg.BitgetPassphrase, log.Logger)

	journ := journal.New(cfg.JournalPath, log.Logger)
	recovered, err := journ.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load position journal")
	}
	log.Info().Int("recovered_positions", len(recovered)).Msg("journal loaded")

	tickerFeed := feed.New(log.Logger)
	for symbol := range recovered {
		tickerFeed.Subscribe(symbol)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tickerFeed.Run(ctx)

	realClock := clock.Real{}

	quote := "USDT"
	balanceCache := balance.New(&balanceFetcher{venue: venueClient}, realClock, quote)

	prices := &priceLookup{feed: tickerFeed, venue: venueClient}

	dailyLoss := risk.NewDailyLossTracker(realClock)
	if equity, ok := balanceCache.Get(ctx); ok {
		dailyLoss.ObserveStartingBalance(equity)
	}
	breaker := risk.NewCircuitBreaker(realClock, time.Duration(cfg.CircuitBreakerDuration)*time.Second)

	gates := risk.NewGates(risk.Config{
		MaxConcurrentPositions:   cfg.MaxConcurrentPositions,
		MaxPortfolioRiskFraction: cfg.MaxPortfolioRiskFraction,
		MaxDailyLossFraction:     cfg.MaxDailyLossFraction,
		MaxPriceDeviation:        cfg.MaxPriceDeviation,
	}, balanceCache, prices, dailyLoss, breaker)

	auditLog := audit.Open(cfg.DatabaseURL, cfg.AuditSQLitePath)
	gates.SetAuditSink(auditLog)
	defer auditLog.Close()

	notif := buildNotifier(cfg)

	monitorSupervisor := monitor.NewSupervisor(venueClient, notif, realClock, monitor.Config{
		StopLossFraction: cfg.StopLossFraction,
	}, log.Logger)
	monitorSupervisor.SetAuditSink(auditLog)
	monitorSupervisor.SetDailyLossSink(gates.DailyLoss())

	manager := trademanager.New(venueClient, balanceCache, gates, journ, monitorSupervisor, notif, trademanager.Config{
		RiskFraction:     cfg.RiskFraction,
		StopLossFraction: cfg.StopLossFraction,
		PaperTrading:     cfg.PaperTrading,
	}, recovered, log.Logger)
	manager.SetFeedSubscriber(tickerFeed)
	manager.ResumeMonitors()

	log.Info().Msg("fxengine running; waiting for signals and shutdown")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()
	tickerFeed.Close()
	manager.Shutdown()
	log.Info().Msg("shutdown complete")
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notifier.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier unavailable, falling back to log notifier")
			return notifier.NewLogNotifier(log.Logger)
		}
		return tg
	}
	return notifier.NewLogNotifier(log.Logger)
}

// balanceFetcher adapts venue.Client.GetBalance to balance.Fetcher.
type balanceFetcher struct {
	venue *venue.Client
}

func (b *balanceFetcher) GetBalance(ctx context.Context, quote string) (decimal.Decimal, error) {
	return b.venue.GetBalance(ctx, quote)
}

// priceLookup adapts the ticker feed (C11, fast path) and the venue's REST
// GetTicker (fallback on staleness/disconnect) to risk.PriceLookup's
// single-decimal return.
type priceLookup struct {
	feed  *feed.Feed
	venue *venue.Client
}

func (p *priceLookup) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, fresh := p.feed.Last(symbol); fresh {
		return price, nil
	}
	ticker, err := p.venue.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return ticker.Last, nil
}
