// Package risk implements the Risk Gates component (spec C3): three
// admission checks evaluated in order, any failure short-circuiting
// admission, plus the daily-loss tracker and circuit breaker they consult.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/position"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GATES - Central admission approval system
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trade Manager asks → Risk Gates approve/reject → Sizing → Venue Client
//
// ═══════════════════════════════════════════════════════════════════════════════

// Rejected is the typed rejection returned by Evaluate (RiskRejected /
// CapacityExceeded / Duplicate / CircuitOpen in the error taxonomy, §7).
type Rejected struct {
	Kind   string
	Reason string
}

func (r *Rejected) Error() string { return fmt.Sprintf("%s: %s", r.Kind, r.Reason) }

// PriceLookup fetches the last price for a symbol, used by the portfolio
// exposure gate to mark open positions. Implemented by the priceLookup
// adapter in cmd/fxengine, which prefers a fresh internal/feed.Feed price
// and falls back to internal/venue.Client's REST GetTicker.
type PriceLookup interface {
	GetTicker(ctx context.Context, symbol string) (last decimal.Decimal, err error)
}

// BalanceLookup fetches current equity, backed by internal/balance.Cache.
type BalanceLookup interface {
	Get(ctx context.Context) (equity decimal.Decimal, ok bool)
}

// Config holds the validated [execution] thresholds the gates consult.
type Config struct {
	MaxConcurrentPositions   int
	MaxPortfolioRiskFraction decimal.Decimal
	MaxDailyLossFraction     decimal.Decimal

	// MaxPriceDeviation enables the disabled-by-default stale-signal gate
	// (Open Question resolution, SPEC_FULL §9): zero disables it. When set,
	// a signal whose price differs from the current last price by more
	// than this fraction is rejected before sizing.
	MaxPriceDeviation decimal.Decimal
}

// AuditSink records risk-state transitions for the audit log (spec C12,
// internal/audit.Log). Optional: a Gates with no sink set simply skips
// recording, so the risk package never imports gorm or any storage driver.
type AuditSink interface {
	RecordSnapshot(kind, reason string, dailyPnL decimal.Decimal) error
}

// Gates evaluates the three admission checks of spec §4.3.
type Gates struct {
	cfg     Config
	balance BalanceLookup
	prices  PriceLookup
	daily   *DailyLossTracker
	breaker *CircuitBreaker
	audit   AuditSink
}

// NewGates constructs a Gates evaluator.
func NewGates(cfg Config, balance BalanceLookup, prices PriceLookup, daily *DailyLossTracker, breaker *CircuitBreaker) *Gates {
	return &Gates{cfg: cfg, balance: balance, prices: prices, daily: daily, breaker: breaker}
}

// SetAuditSink wires the audit log (C12); called once during startup
// wiring in cmd/fxengine/main.go.
func (g *Gates) SetAuditSink(sink AuditSink) { g.audit = sink }

// Evaluate runs the optional price-deviation check and then the three gates
// in order against the caller-held snapshot of open positions. The Trade Manager calls this while holding its map
// mutex, per spec §4.6 step 1 — gate evaluation (including the venue/cache
// calls it makes) happens before the mutex is released for order I/O.
func (g *Gates) Evaluate(ctx context.Context, symbol string, signalPrice decimal.Decimal, positions map[string]*position.Record) error {
	if err := g.evaluatePriceDeviation(ctx, symbol, signalPrice); err != nil {
		return err
	}
	if err := g.evaluateCapacity(symbol, positions); err != nil {
		return err
	}
	if err := g.evaluateExposure(ctx, positions); err != nil {
		return err
	}
	if err := g.evaluateDailyLoss(); err != nil {
		return err
	}
	return nil
}

// evaluatePriceDeviation is the optional, disabled-by-default gate: reject
// a signal whose declared price has drifted too far from the venue's
// current last price, guarding against stale or replayed signals.
func (g *Gates) evaluatePriceDeviation(ctx context.Context, symbol string, signalPrice decimal.Decimal) error {
	if g.cfg.MaxPriceDeviation.IsZero() || signalPrice.IsZero() {
		return nil
	}
	last, err := g.prices.GetTicker(ctx, symbol)
	if err != nil || last.IsZero() {
		return nil // no ticker available: fail open, same as the source
	}
	deviation := last.Sub(signalPrice).Abs().Div(signalPrice)
	if deviation.GreaterThan(g.cfg.MaxPriceDeviation) {
		return &Rejected{Kind: "RiskRejected", Reason: fmt.Sprintf(
			"signal price %s deviates %s%% from last %s (limit %s%%)",
			signalPrice.String(), deviation.Mul(decimal.NewFromInt(100)).StringFixed(2), last.String(),
			g.cfg.MaxPriceDeviation.Mul(decimal.NewFromInt(100)).StringFixed(2))}
	}
	return nil
}

// evaluateCapacity is gate 1: uniqueness/capacity (I1, I3).
func (g *Gates) evaluateCapacity(symbol string, positions map[string]*position.Record) error {
	if _, exists := positions[symbol]; exists {
		return &Rejected{Kind: "Duplicate", Reason: fmt.Sprintf("%s already has an open position", symbol)}
	}
	if g.cfg.MaxConcurrentPositions > 0 && len(positions) >= g.cfg.MaxConcurrentPositions {
		return &Rejected{Kind: "CapacityExceeded", Reason: fmt.Sprintf("at capacity (%d/%d)", len(positions), g.cfg.MaxConcurrentPositions)}
	}
	return nil
}

// evaluateExposure is gate 2: portfolio exposure as a fraction of equity.
func (g *Gates) evaluateExposure(ctx context.Context, positions map[string]*position.Record) error {
	if g.cfg.MaxPortfolioRiskFraction.IsZero() {
		return nil
	}

	equity, ok := g.balance.Get(ctx)
	if !ok {
		return &Rejected{Kind: "RiskRejected", Reason: "equity unavailable"}
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return &Rejected{Kind: "RiskRejected", Reason: "equity is zero or negative"}
	}

	exposure := decimal.Zero
	for symbol, rec := range positions {
		mark := rec.EntryPrice
		if last, err := g.prices.GetTicker(ctx, symbol); err == nil && !last.IsZero() {
			mark = last
		}
		exposure = exposure.Add(rec.Size.Mul(mark).Abs())
	}

	fraction := exposure.Div(equity)
	if fraction.GreaterThan(g.cfg.MaxPortfolioRiskFraction) {
		return &Rejected{Kind: "RiskRejected", Reason: fmt.Sprintf("portfolio exposure %s%% exceeds limit %s%%",
			fraction.Mul(decimal.NewFromInt(100)).StringFixed(2),
			g.cfg.MaxPortfolioRiskFraction.Mul(decimal.NewFromInt(100)).StringFixed(2))}
	}
	return nil
}

// evaluateDailyLoss is gate 3: circuit breaker + daily-loss trip check.
func (g *Gates) evaluateDailyLoss() error {
	if active, reason, remaining := g.breaker.Status(); active {
		return &Rejected{Kind: "CircuitOpen", Reason: fmt.Sprintf("%s (resets in %s)", reason, remaining.Round(1e9))}
	}

	lossPct := g.daily.LossPercentage()
	if !g.cfg.MaxDailyLossFraction.IsZero() && lossPct.GreaterThanOrEqual(g.cfg.MaxDailyLossFraction) {
		reason := fmt.Sprintf("daily loss %s%% reached limit %s%%",
			lossPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
			g.cfg.MaxDailyLossFraction.Mul(decimal.NewFromInt(100)).StringFixed(2))
		g.breaker.Trip(reason)
		if g.audit != nil {
			g.audit.RecordSnapshot("breaker_tripped", reason, g.daily.DailyPnL())
		}
		return &Rejected{Kind: "CircuitOpen", Reason: reason}
	}
	return nil
}

// DailyLoss exposes the tracker for wiring (balance cache observations,
// PnL updates from the monitor on retirement).
func (g *Gates) DailyLoss() *DailyLossTracker { return g.daily }

// Breaker exposes the circuit breaker for operator inspection.
func (g *Gates) Breaker() *CircuitBreaker { return g.breaker }
