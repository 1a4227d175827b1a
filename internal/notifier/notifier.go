// Package notifier implements the out-of-scope sink interface (spec C8)
// plus the two concrete sinks this expansion supplies (SPEC_FULL §4.13):
// a log-only notifier and a Telegram notifier.
package notifier

import "github.com/shopspring/decimal"

// EventKind distinguishes the two notification shapes the core emits.
type EventKind string

const (
	EventEntry  EventKind = "entry"
	EventClosed EventKind = "closed"
)

// Event is the structured payload passed to Notifier.Emit. Fields not
// relevant to a given Kind are left zero.
type Event struct {
	Kind   EventKind
	Symbol string
	Side   string

	Entry      decimal.Decimal
	Size       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	RiskAmount decimal.Decimal
	Equity     decimal.Decimal

	Exit       decimal.Decimal
	PnLPercent decimal.Decimal
	Reason     string
}

// Notifier is the single sink operation the core calls. Delivery failures
// must never affect trading state (spec §4.8, §7) — implementations are
// expected to log and swallow their own errors rather than return one that
// a caller might act on.
type Notifier interface {
	Emit(event Event)
}
