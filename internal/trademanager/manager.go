// Package trademanager implements the Trade Manager (spec C6): signal
// admission, order placement sequence, the in-memory position map, and the
// mutation API (update bracket, close) the Position Monitor calls back
// into via the monitor.Callback interface.
package trademanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/journal"
	"github.com/web3guy0/fxengine/internal/monitor"
	"github.com/web3guy0/fxengine/internal/notifier"
	"github.com/web3guy0/fxengine/internal/position"
	"github.com/web3guy0/fxengine/internal/sizing"
	"github.com/web3guy0/fxengine/internal/venue"
	"github.com/web3guy0/fxengine/risk"
)

// VenueClient is the subset of internal/venue.Client the Trade Manager
// drives directly (order placement, plan management, venue-side lookups
// used by close_position).
type VenueClient interface {
	GetInstrument(ctx context.Context, symbol string) (venue.InstrumentSpec, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, size decimal.Decimal, reduceOnly bool, clientOID string) (string, error)
	PlaceTPSL(ctx context.Context, symbol string, plan venue.PlanType, triggerPrice decimal.Decimal, executeMarket bool, executePrice decimal.Decimal, holdSide string, size decimal.Decimal, triggerSource venue.TriggerSource) (string, error)
	ModifyTPSL(ctx context.Context, orderID, symbol string, newTrigger decimal.Decimal, newExecute *decimal.Decimal, newSize *decimal.Decimal) (string, error)
	CancelTPSL(ctx context.Context, orderID, symbol string, plan venue.PlanType) error
	GetPositions(ctx context.Context, symbol string) ([]venue.PositionSnapshot, error)
}

// BalanceLookup fetches current equity.
type BalanceLookup interface {
	Get(ctx context.Context) (decimal.Decimal, bool)
}

// Gates is the admission check surface (risk.Gates).
type Gates interface {
	Evaluate(ctx context.Context, symbol string, signalPrice decimal.Decimal, positions map[string]*position.Record) error
}

// Journal is the durable recovery-hint store.
type Journal interface {
	Save(records map[string]*position.Record) error
}

// MonitorSupervisor spawns and cancels background position monitors.
type MonitorSupervisor interface {
	Spawn(cb monitor.Callback, symbol string)
	Cancel(symbol string)
	CancelAll()
}

// FeedSubscriber keeps the ticker feed's subscription set (C11) aligned
// with the set of open positions. Optional: a Manager with no subscriber
// wired simply skips updating it.
type FeedSubscriber interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// Config carries the parameters the admission sequence needs directly
// (the rest live in risk.Config and are owned by Gates).
type Config struct {
	RiskFraction     decimal.Decimal
	StopLossFraction decimal.Decimal
	PaperTrading     bool
}

// Manager owns the position map exclusively (spec §3 Ownership). It
// implements monitor.Callback so the Position Monitor can call back into it
// without monitor importing this package.
type Manager struct {
	mu        sync.Mutex
	positions map[string]*position.Record

	venue    VenueClient
	balance  BalanceLookup
	gates    Gates
	journal  Journal
	monitors MonitorSupervisor
	notifier notifier.Notifier
	cfg      Config
	log      zerolog.Logger
	feed     FeedSubscriber
}

// SetFeedSubscriber wires the ticker feed (C11); called once during
// startup wiring in cmd/fxengine/main.go.
func (m *Manager) SetFeedSubscriber(f FeedSubscriber) { m.feed = f }

// New constructs a Manager seeded with any records recovered from the
// journal on startup.
func New(venueClient VenueClient, balance BalanceLookup, gates Gates, journ Journal, monitors MonitorSupervisor, notif notifier.Notifier, cfg Config, recovered map[string]*position.Record, log zerolog.Logger) *Manager {
	if recovered == nil {
		recovered = make(map[string]*position.Record)
	}
	return &Manager{
		positions: recovered,
		venue:     venueClient,
		balance:   balance,
		gates:     gates,
		journal:   journ,
		monitors:  monitors,
		notifier:  notif,
		cfg:       cfg,
		log:       log.With().Str("component", "trademanager").Logger(),
	}
}

// ResumeMonitors spawns a monitor for every record recovered from the
// journal at startup — the monitor's first poll will detect and retire any
// instrument that already closed while the process was down (spec §4.2).
func (m *Manager) ResumeMonitors() {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.positions))
	for symbol := range m.positions {
		symbols = append(symbols, symbol)
	}
	m.mu.Unlock()
	for _, symbol := range symbols {
		m.monitors.Spawn(m, symbol)
		if m.feed != nil {
			m.feed.Subscribe(symbol)
		}
	}
}

// Shutdown cancels every running monitor and persists the final map.
func (m *Manager) Shutdown() {
	m.monitors.CancelAll()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.journal.Save(m.snapshotLocked()); err != nil {
		m.log.Error().Err(err).Msg("journal write failed on shutdown")
	}
}

// SubmitSignal runs the nine-step admission sequence of spec §4.6.
func (m *Manager) SubmitSignal(ctx context.Context, signal position.Signal) (string, error) {
	side, ok := position.SideFromSignalType(signal.SignalType)
	if !ok {
		return "", fmt.Errorf("signal_type %q does not indicate buy or sell", signal.SignalType)
	}

	// Step 1: acquire mutex, evaluate gates, release before I/O.
	m.mu.Lock()
	err := m.gates.Evaluate(ctx, signal.Symbol, signal.Price, m.positions)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	// Step 2: compute size and bracket.
	equity, ok := m.balance.Get(ctx)
	if !ok {
		return "", sizing.ErrInsufficientEquity
	}
	posSide := position.SideOf(side)
	bracket, err := sizing.Calculate(ctx, m.venue, signal.Symbol, posSide, signal.Price, equity, m.cfg.RiskFraction, m.cfg.StopLossFraction)
	if err != nil {
		return "", err
	}

	// Step 3: place entry order.
	mainOrderID, err := m.placeMarketOrder(ctx, signal.Symbol, side, bracket.Size, false)
	if err != nil {
		return "", fmt.Errorf("OrderRejected: %w", err)
	}

	holdSide := string(posSide)
	// Step 4: stop-loss plan (best-effort).
	slOrderID, err := m.placeTPSL(ctx, signal.Symbol, venue.PlanStopLoss, bracket.StopLossPrice, holdSide, bracket.Size)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", signal.Symbol).Msg("stop-loss plan placement failed, tracking without venue-side SL")
	}

	// Step 5: take-profit plan (same failure policy).
	tpOrderID, err := m.placeTPSL(ctx, signal.Symbol, venue.PlanTakeProfit, bracket.TakeProfit, holdSide, bracket.Size)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", signal.Symbol).Msg("take-profit plan placement failed, tracking without venue-side TP")
	}

	record := &position.Record{
		Symbol:            signal.Symbol,
		Side:              posSide,
		Size:              bracket.Size,
		EntryPrice:        signal.Price,
		StopLossPrice:     bracket.StopLossPrice,
		TakeProfitPrice:   bracket.TakeProfit,
		MainOrderID:       mainOrderID,
		StopLossOrderID:   slOrderID,
		TakeProfitOrderID: tpOrderID,
		OpenedAt:          signal.Timestamp,
	}

	// Step 6: re-acquire mutex; race check against concurrent admission.
	m.mu.Lock()
	if _, exists := m.positions[signal.Symbol]; exists {
		m.mu.Unlock()
		m.log.Warn().Str("symbol", signal.Symbol).Msg("concurrent admission race: keeping first winner")
		return "", &risk.Rejected{Kind: "Duplicate", Reason: "lost admission race"}
	}
	m.positions[signal.Symbol] = record

	// Step 7: persist journal (I4).
	if err := m.journal.Save(m.snapshotLocked()); err != nil {
		m.log.Error().Err(err).Str("symbol", signal.Symbol).Msg("JournalWriteFailed")
	}
	m.mu.Unlock()

	// Step 8: spawn monitor.
	m.monitors.Spawn(m, signal.Symbol)
	if m.feed != nil {
		m.feed.Subscribe(signal.Symbol)
	}

	// Step 9: emit entry notification.
	m.notifier.Emit(notifier.Event{
		Kind:       notifier.EventEntry,
		Symbol:     signal.Symbol,
		Side:       string(posSide),
		Entry:      signal.Price,
		Size:       bracket.Size,
		StopLoss:   bracket.StopLossPrice,
		TakeProfit: bracket.TakeProfit,
		RiskAmount: equity.Mul(m.cfg.RiskFraction),
		Equity:     equity,
	})

	return mainOrderID, nil
}

// UpdateBracket implements update_bracket (spec §4.6). Enforces both I2
// (bracket coherence against the current entry price) and I5 (a supplied
// newSL may never regress the stop-loss) itself, rather than trusting
// callers to have checked monotonicity first.
func (m *Manager) UpdateBracket(ctx context.Context, symbol string, newSL, newTP *decimal.Decimal) error {
	m.mu.Lock()
	record, exists := m.positions[symbol]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("update_bracket: %s has no open position", symbol)
	}
	entry := record.EntryPrice
	curSL := record.StopLossPrice
	candidateSL := curSL
	candidateTP := record.TakeProfitPrice
	if newSL != nil {
		candidateSL = *newSL
	}
	if newTP != nil {
		candidateTP = *newTP
	}
	if newSL != nil {
		monotone := (record.Side == position.Long && candidateSL.GreaterThan(curSL)) ||
			(record.Side == position.Short && candidateSL.LessThan(curSL))
		if !monotone {
			m.mu.Unlock()
			return fmt.Errorf("update_bracket: %s candidate stop-loss %s does not improve on %s", symbol, candidateSL, curSL)
		}
	}
	if !position.BracketCoherent(record.Side, entry, candidateSL, candidateTP) {
		m.mu.Unlock()
		return fmt.Errorf("update_bracket: %s would violate bracket coherence", symbol)
	}
	slOrderID, tpOrderID := record.StopLossOrderID, record.TakeProfitOrderID
	holdSide := string(record.Side)
	size := record.Size
	m.mu.Unlock()

	if newSL != nil {
		orderID, err := m.upsertTPSL(ctx, symbol, venue.PlanStopLoss, slOrderID, *newSL, holdSide, size)
		if err != nil {
			return err
		}
		slOrderID = orderID
	}
	if newTP != nil {
		orderID, err := m.upsertTPSL(ctx, symbol, venue.PlanTakeProfit, tpOrderID, *newTP, holdSide, size)
		if err != nil {
			return err
		}
		tpOrderID = orderID
	}

	m.mu.Lock()
	record, exists = m.positions[symbol]
	if exists {
		if newSL != nil {
			record.StopLossPrice = *newSL
			record.StopLossOrderID = slOrderID
		}
		if newTP != nil {
			record.TakeProfitPrice = *newTP
			record.TakeProfitOrderID = tpOrderID
		}
		if err := m.journal.Save(m.snapshotLocked()); err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("JournalWriteFailed")
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) upsertTPSL(ctx context.Context, symbol string, plan venue.PlanType, existingOrderID string, price decimal.Decimal, holdSide string, size decimal.Decimal) (string, error) {
	if existingOrderID != "" {
		return m.modifyTPSL(ctx, existingOrderID, symbol, price)
	}
	return m.placeTPSL(ctx, symbol, plan, price, holdSide, size)
}

// ClosePosition implements close_position (spec §4.6).
func (m *Manager) ClosePosition(ctx context.Context, symbol string) (string, error) {
	m.mu.Lock()
	record, exists := m.positions[symbol]
	m.mu.Unlock()

	if !exists {
		snapshots, err := m.venue.GetPositions(ctx, symbol)
		if err == nil {
			for _, snap := range snapshots {
				if snap.Symbol == symbol && !snap.Size.IsZero() {
					return "", fmt.Errorf("close_position: %s has a venue-side position but no local record", symbol)
				}
			}
		}
		return "already closed", nil
	}

	if record.StopLossOrderID != "" {
		_ = m.venue.CancelTPSL(ctx, record.StopLossOrderID, symbol, venue.PlanStopLoss)
	}
	if record.TakeProfitOrderID != "" {
		_ = m.venue.CancelTPSL(ctx, record.TakeProfitOrderID, symbol, venue.PlanTakeProfit)
	}

	closeSize := record.Size
	if snapshots, err := m.venue.GetPositions(ctx, symbol); err == nil {
		for _, snap := range snapshots {
			if snap.Symbol == symbol && !snap.Size.IsZero() {
				closeSize = snap.Size
			}
		}
	}

	closeSide := "sell"
	if record.Side == position.Short {
		closeSide = "buy"
	}
	orderID, err := m.placeMarketOrder(ctx, symbol, closeSide, closeSize, true)
	if err != nil {
		return "", err
	}

	m.Retire(symbol)
	m.monitors.Cancel(symbol)
	return orderID, nil
}

// Position implements monitor.Callback.
func (m *Manager) Position(symbol string) (*position.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.positions[symbol]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Retire implements monitor.Callback: removes symbol and persists the
// journal. A no-op if the symbol is already absent (safe race with
// close_position, spec §5).
func (m *Manager) Retire(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[symbol]; !exists {
		return
	}
	delete(m.positions, symbol)
	if err := m.journal.Save(m.snapshotLocked()); err != nil {
		m.log.Error().Err(err).Str("symbol", symbol).Msg("JournalWriteFailed")
	}
	if m.feed != nil {
		m.feed.Unsubscribe(symbol)
	}
}

// CommitTrailingStop implements monitor.Callback.
func (m *Manager) CommitTrailingStop(ctx context.Context, symbol string, newSL decimal.Decimal) error {
	m.mu.Lock()
	record, exists := m.positions[symbol]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("commit trailing stop: %s has no open position", symbol)
	}
	cur := record.StopLossPrice
	monotone := (record.Side == position.Long && newSL.GreaterThan(cur)) ||
		(record.Side == position.Short && newSL.LessThan(cur))
	m.mu.Unlock()
	if !monotone {
		return fmt.Errorf("commit trailing stop: %s candidate %s does not improve on %s", symbol, newSL, cur)
	}
	sl := newSL
	return m.UpdateBracket(ctx, symbol, &sl, nil)
}

func (m *Manager) snapshotLocked() map[string]*position.Record {
	out := make(map[string]*position.Record, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}

func (m *Manager) placeMarketOrder(ctx context.Context, symbol, side string, size decimal.Decimal, reduceOnly bool) (string, error) {
	if m.cfg.PaperTrading {
		return fmt.Sprintf("SIM_%d_%s", time.Now().UnixNano()/int64(time.Millisecond), symbol), nil
	}
	return m.venue.PlaceMarketOrder(ctx, symbol, side, size, reduceOnly, "")
}

func (m *Manager) placeTPSL(ctx context.Context, symbol string, plan venue.PlanType, price decimal.Decimal, holdSide string, size decimal.Decimal) (string, error) {
	if m.cfg.PaperTrading {
		return fmt.Sprintf("SIM_%d_%s", time.Now().UnixNano()/int64(time.Millisecond), symbol), nil
	}
	return m.venue.PlaceTPSL(ctx, symbol, plan, price, true, decimal.Zero, holdSide, size, venue.TriggerMark)
}

func (m *Manager) modifyTPSL(ctx context.Context, orderID, symbol string, price decimal.Decimal) (string, error) {
	if m.cfg.PaperTrading {
		return orderID, nil
	}
	return m.venue.ModifyTPSL(ctx, orderID, symbol, price, nil, nil)
}
