// Package monitor implements the per-position background loop (spec C7):
// venue polling, closure detection and reason classification, trailing-stop
// updates, and notifier emission on retirement.
//
// Monitor never imports the trade-manager package. It defines Callback, a
// narrow interface the Trade Manager implements, so the dependency points
// one way (trademanager -> monitor) and no import cycle is possible.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/clock"
	"github.com/web3guy0/fxengine/internal/notifier"
	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/venue"
)

const (
	// pollPeriod and cancelSlice give the 30s-period/5s-cancellation-
	// granularity contract of spec §4.7/§5.
	pollPeriod  = 30 * time.Second
	cancelSlice = 5 * time.Second

	// errorRetryPeriod/errorRetrySlice govern the on-exception backoff.
	errorRetryPeriod = 10 * time.Second
	errorRetrySlice  = 2 * time.Second

	// trailingActivationLong/Short and trailingFactor implement the §4.7
	// trailing-stop formulas.
	trailingActivationLong  = "1.005"
	trailingActivationShort = "0.995"
	trailingFactor          = "0.6"
)

// Callback is the surface the Trade Manager exposes to a running monitor.
// All methods must be safe to call from the monitor's own goroutine; the
// Trade Manager is responsible for its own mutex discipline internally.
type Callback interface {
	// Position returns a snapshot of the tracked record for symbol, and
	// whether it is still present in the map.
	Position(symbol string) (*position.Record, bool)
	// Retire removes symbol from the map and persists the journal (I4).
	// It is a no-op if the symbol is already absent (safe race with
	// close_position, spec §5).
	Retire(symbol string)
	// CommitTrailingStop calls update_bracket for symbol with newSL,
	// enforcing I2/I5; it returns an error if the commit is rejected.
	CommitTrailingStop(ctx context.Context, symbol string, newSL decimal.Decimal) error
}

// VenueClient is the narrow subset of internal/venue.Client a monitor
// needs to poll.
type VenueClient interface {
	GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error)
	GetHistoryPositions(ctx context.Context, symbol string, limit int) ([]venue.HistoryPosition, error)
	GetTicker(ctx context.Context, symbol string) (venue.Ticker, error)
}

// Config carries the parameters the trailing-stop formula needs.
type Config struct {
	StopLossFraction decimal.Decimal
}

// AuditSink records one retired-position row (spec C12,
// internal/audit.Log). Optional: a Supervisor with no sink set simply
// skips recording.
type AuditSink interface {
	RecordClosure(symbol, side string, entry, exit, size, pnlPercent decimal.Decimal, reason string) error
}

// DailyLossSink folds a closed position's realized PnL into the daily-loss
// accumulator (risk.DailyLossTracker) that gate 3 trips the breaker on.
// Optional: a Supervisor with no sink set simply skips the update, which
// would leave the breaker unable to react to real trading losses.
type DailyLossSink interface {
	UpdatePnL(delta decimal.Decimal)
}

// Supervisor spawns and tracks one monitor goroutine per open symbol.
type Supervisor struct {
	venue    VenueClient
	notifier notifier.Notifier
	clock    clock.Clock
	cfg      Config
	log      zerolog.Logger
	audit    AuditSink
	daily    DailyLossSink

	mu       sync.Mutex
	handles  map[string]*handle
}

// SetAuditSink wires the audit log (C12); called once during startup
// wiring in cmd/fxengine/main.go.
func (s *Supervisor) SetAuditSink(sink AuditSink) { s.audit = sink }

// SetDailyLossSink wires the daily-loss tracker (risk.Gates.DailyLoss());
// called once during startup wiring in cmd/fxengine/main.go.
func (s *Supervisor) SetDailyLossSink(sink DailyLossSink) { s.daily = sink }

type handle struct {
	cancel chan struct{}
	once   sync.Once
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(venueClient VenueClient, notif notifier.Notifier, clk clock.Clock, cfg Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		venue:    venueClient,
		notifier: notif,
		clock:    clk,
		cfg:      cfg,
		log:      log.With().Str("component", "monitor").Logger(),
		handles:  make(map[string]*handle),
	}
}

// Spawn starts a background loop for symbol against cb. Spawning a symbol
// already running is a no-op — the Trade Manager only calls Spawn once per
// admission.
func (s *Supervisor) Spawn(cb Callback, symbol string) {
	s.mu.Lock()
	if _, exists := s.handles[symbol]; exists {
		s.mu.Unlock()
		return
	}
	h := &handle{cancel: make(chan struct{})}
	s.handles[symbol] = h
	s.mu.Unlock()

	go s.run(cb, symbol, h)
}

// Cancel stops the monitor for symbol, if running. close_position calls
// this after a successful retirement (spec §5 Cancellation).
func (s *Supervisor) Cancel(symbol string) {
	s.mu.Lock()
	h, ok := s.handles[symbol]
	if ok {
		delete(s.handles, symbol)
	}
	s.mu.Unlock()
	if ok {
		h.once.Do(func() { close(h.cancel) })
	}
}

// CancelAll stops every running monitor — used on process shutdown.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for symbol, h := range s.handles {
		handles = append(handles, h)
		delete(s.handles, symbol)
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.once.Do(func() { close(h.cancel) })
	}
}

func (s *Supervisor) run(cb Callback, symbol string, h *handle) {
	log := s.log.With().Str("symbol", symbol).Logger()
	defer s.forget(symbol, h)

	for {
		if _, ok := cb.Position(symbol); !ok {
			return
		}

		closed, err := s.poll(cb, symbol)
		if err != nil {
			log.Warn().Err(err).Msg("monitor poll failed, backing off")
			if s.sleepSlices(h, errorRetryPeriod, errorRetrySlice) {
				return
			}
			continue
		}
		if closed {
			return
		}

		if s.sleepSlices(h, pollPeriod, cancelSlice) {
			return
		}
	}
}

// forget removes the handle if Spawn's run loop exits on its own
// (retirement) rather than via an external Cancel.
func (s *Supervisor) forget(symbol string, h *handle) {
	s.mu.Lock()
	if cur, ok := s.handles[symbol]; ok && cur == h {
		delete(s.handles, symbol)
	}
	s.mu.Unlock()
}

// sleepSlices sleeps total in slice-sized increments, checking h.cancel
// between each. Returns true if cancellation was observed.
func (s *Supervisor) sleepSlices(h *handle, total, slice time.Duration) bool {
	elapsed := time.Duration(0)
	for elapsed < total {
		step := slice
		if remaining := total - elapsed; remaining < step {
			step = remaining
		}
		select {
		case <-h.cancel:
			return true
		case <-time.After(step):
		}
		elapsed += step
	}
	return false
}

// poll performs one check-position / trailing-stop iteration. Returns
// closed=true once the symbol has been retired.
func (s *Supervisor) poll(cb Callback, symbol string) (closed bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, ok := cb.Position(symbol)
	if !ok {
		return true, nil
	}

	snapshots, err := s.venue.GetPositions(ctx, symbol)
	if err != nil {
		return false, err
	}

	size := decimal.Zero
	for _, snap := range snapshots {
		if snap.Symbol == symbol {
			size = snap.Size
			break
		}
	}

	if size.IsZero() {
		return s.retire(ctx, cb, symbol, record)
	}

	return false, s.updateTrailingStop(ctx, cb, symbol, record)
}

// retire handles the retirement path (spec §4.7 step 2): remove the
// record, classify the closure reason, and emit a `closed` notification.
func (s *Supervisor) retire(ctx context.Context, cb Callback, symbol string, record *position.Record) (bool, error) {
	cb.Retire(symbol)

	reason, exitPrice, pnlPercent, realizedPnL := s.classifyClosure(ctx, symbol, record)

	if s.audit != nil {
		if err := s.audit.RecordClosure(symbol, string(record.Side), record.EntryPrice, exitPrice, record.Size, pnlPercent, reason); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist audit record")
		}
	}

	if s.daily != nil {
		s.daily.UpdatePnL(realizedPnL)
	}

	s.notifier.Emit(notifier.Event{
		Kind:       notifier.EventClosed,
		Symbol:     symbol,
		Side:       string(record.Side),
		Entry:      record.EntryPrice,
		Exit:       exitPrice,
		Size:       record.Size,
		PnLPercent: pnlPercent,
		Reason:     reason,
	})

	return true, nil
}

// classifyClosure determines whether a retired position closed via
// stop_loss, take_profit, or manual intervention (spec §4.7 step 2b), and
// returns the realized PnL in quote currency the daily-loss tracker folds
// in alongside the display percentage.
func (s *Supervisor) classifyClosure(ctx context.Context, symbol string, record *position.Record) (reason string, exitPrice, pnlPercent, realizedPnL decimal.Decimal) {
	history, err := s.venue.GetHistoryPositions(ctx, symbol, 1)
	if err == nil && len(history) > 0 {
		pnl := history[0].RealizedPnL
		switch {
		case pnl.IsNegative():
			reason = "stop_loss"
		case pnl.IsPositive():
			reason = "take_profit"
		default:
			reason = "manual"
		}
		if !record.EntryPrice.IsZero() {
			pnlPercent = pnl.Div(record.EntryPrice.Mul(record.Size)).Mul(decimal.NewFromInt(100))
		}
		exitPrice = record.EntryPrice
		if !record.Size.IsZero() {
			priceDelta := pnl.Div(record.Size)
			if record.Side == position.Short {
				priceDelta = priceDelta.Neg()
			}
			exitPrice = record.EntryPrice.Add(priceDelta)
		}
		return reason, exitPrice, pnlPercent, pnl
	}

	// History lookup failed: infer from last price vs stored SL/TP, and
	// derive realized PnL from the mark-to-exit delta.
	ticker, tickErr := s.venue.GetTicker(ctx, symbol)
	if tickErr != nil {
		return "manual", record.EntryPrice, decimal.Zero, decimal.Zero
	}
	last := ticker.Last
	switch record.Side {
	case position.Long:
		if last.LessThanOrEqual(record.StopLossPrice) {
			reason = "stop_loss"
		} else if last.GreaterThanOrEqual(record.TakeProfitPrice) {
			reason = "take_profit"
		} else {
			reason = "manual"
		}
	default:
		if last.GreaterThanOrEqual(record.StopLossPrice) {
			reason = "stop_loss"
		} else if last.LessThanOrEqual(record.TakeProfitPrice) {
			reason = "take_profit"
		} else {
			reason = "manual"
		}
	}
	diff := last.Sub(record.EntryPrice)
	if record.Side == position.Short {
		diff = diff.Neg()
	}
	realizedPnL = diff.Mul(record.Size)
	if !record.EntryPrice.IsZero() {
		pnlPercent = diff.Div(record.EntryPrice).Mul(decimal.NewFromInt(100))
	}
	return reason, last, pnlPercent, realizedPnL
}

// updateTrailingStop evaluates and, if warranted, commits the §4.7 step 3
// trailing-stop formula. The commit path enforces I5 via
// Callback.CommitTrailingStop.
func (s *Supervisor) updateTrailingStop(ctx context.Context, cb Callback, symbol string, record *position.Record) error {
	ticker, err := s.venue.GetTicker(ctx, symbol)
	if err != nil {
		return err
	}
	last := ticker.Last
	if last.IsZero() {
		return nil
	}

	factor := decimal.RequireFromString(trailingFactor)
	entry := record.EntryPrice
	curSL := record.StopLossPrice

	var candidate decimal.Decimal
	var shouldUpdate bool

	switch record.Side {
	case position.Long:
		activation := curSL.Mul(decimal.RequireFromString(trailingActivationLong))
		shouldUpdate = last.GreaterThan(entry) && last.GreaterThan(activation)
		candidate = last.Mul(decimal.NewFromInt(1).Sub(factor.Mul(s.cfg.StopLossFraction)))
		if shouldUpdate && candidate.LessThanOrEqual(curSL) {
			shouldUpdate = false
		}
	default:
		activation := curSL.Mul(decimal.RequireFromString(trailingActivationShort))
		shouldUpdate = last.LessThan(entry) && last.LessThan(activation)
		candidate = last.Mul(decimal.NewFromInt(1).Add(factor.Mul(s.cfg.StopLossFraction)))
		if shouldUpdate && candidate.GreaterThanOrEqual(curSL) {
			shouldUpdate = false
		}
	}

	if !shouldUpdate {
		return nil
	}
	return cb.CommitTrailingStop(ctx, symbol, candidate)
}
