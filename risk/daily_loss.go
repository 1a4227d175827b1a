package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/clock"
)

// DailyLossTracker accumulates realized PnL over a WIB calendar day and
// reports the loss fraction the circuit-breaker gate trips on (spec §4.3).
type DailyLossTracker struct {
	mu sync.Mutex

	clock clock.Clock

	dailyPnL        decimal.Decimal
	startingBalance decimal.Decimal
	haveBalance     bool
	resetTime       time.Time
}

// NewDailyLossTracker constructs a tracker with its first reset boundary
// already computed.
func NewDailyLossTracker(clk clock.Clock) *DailyLossTracker {
	return &DailyLossTracker{
		clock:     clk,
		resetTime: clock.NextWIBMidnight(clk.Now()),
	}
}

// ObserveStartingBalance captures starting_balance the first time equity is
// observed in a day. Subsequent calls before the next reset are no-ops.
func (d *DailyLossTracker) ObserveStartingBalance(equity decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked()
	if !d.haveBalance {
		d.startingBalance = equity
		d.haveBalance = true
	}
}

// UpdatePnL adds delta to the accumulator, resetting first if the reset
// boundary has passed.
func (d *DailyLossTracker) UpdatePnL(delta decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked()
	d.dailyPnL = d.dailyPnL.Add(delta)
}

// LossPercentage returns max(0, -daily_pnl) / starting_balance, defined as 0
// when starting_balance is 0.
func (d *DailyLossTracker) LossPercentage() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked()
	if d.startingBalance.IsZero() {
		return decimal.Zero
	}
	loss := decimal.Max(decimal.Zero, d.dailyPnL.Neg())
	return loss.Div(d.startingBalance)
}

// DailyPnL returns the raw accumulator value, resetting first if due.
func (d *DailyLossTracker) DailyPnL() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked()
	return d.dailyPnL
}

// ResetDailyCounter resets the accumulator and advances reset_time to the
// next boundary. Calling it twice in succession is idempotent: each call
// recomputes reset_time from the current instant, so the second call lands
// on the same boundary instead of advancing it a further day.
func (d *DailyLossTracker) ResetDailyCounter() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *DailyLossTracker) maybeResetLocked() {
	now := d.clock.Now()
	if !now.Before(d.resetTime) {
		d.resetLocked()
	}
}

// resetLocked zeroes the accumulator and recomputes the next WIB midnight
// from the current instant. It is a pure function of "now", so calling it
// twice in immediate succession (reset idempotence, spec §8) yields the
// same resulting resetTime both times rather than advancing it twice.
func (d *DailyLossTracker) resetLocked() {
	d.dailyPnL = decimal.Zero
	d.haveBalance = false
	d.resetTime = clock.NextWIBMidnight(d.clock.Now())
}
