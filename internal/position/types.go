// Package position holds the shared entity types that cross package
// boundaries (trademanager, monitor, journal) to avoid import cycles —
// the same role the teacher's "types" package played for Position/Trade.
package position

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position. The core is one-way only: no hedge
// mode, no partial flips.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Signal is the in-process admission request produced by the (out-of-scope)
// strategy/screener.
type Signal struct {
	Symbol     string
	SignalType string // matches /Buy|Sell/ by substring; side derived from it
	Price      decimal.Decimal
	Timestamp  string // opaque, stored verbatim
}

// SideFromSignalType derives buy/sell from a signal_type string containing
// "Buy" or "Sell" (e.g. "StrongBuy", "Sell").
func SideFromSignalType(signalType string) (string, bool) {
	lower := strings.ToLower(signalType)
	switch {
	case strings.Contains(lower, "buy"):
		return "buy", true
	case strings.Contains(lower, "sell"):
		return "sell", true
	default:
		return "", false
	}
}

// SideOf maps the venue "buy"/"sell" order side to the position Side it
// opens (one-way mode: buy opens/adds long, sell opens/adds short).
func SideOf(orderSide string) Side {
	if orderSide == "sell" {
		return Short
	}
	return Long
}

// Record is the PositionRecord entity (spec §3): the Trade Manager's
// exclusively-owned row for one open instrument.
type Record struct {
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Size            decimal.Decimal `json:"size"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	MainOrderID     string          `json:"main_order_id"`
	StopLossOrderID string          `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string        `json:"take_profit_order_id,omitempty"`
	OpenedAt        string          `json:"opened_at"`
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// map mutex (decimal.Decimal is already immutable).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// BracketCoherent checks invariant I2: for a long, SL < entry < TP;
// mirrored for a short.
func BracketCoherent(side Side, entry, sl, tp decimal.Decimal) bool {
	if side == Long {
		return sl.LessThan(entry) && entry.LessThan(tp)
	}
	return sl.GreaterThan(entry) && entry.GreaterThan(tp)
}
