package notifier

import "github.com/rs/zerolog"

// LogNotifier formats every event through zerolog at Info level. Default in
// tests and when no Telegram token is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Emit logs event at Info level with its fields attached.
func (n *LogNotifier) Emit(event Event) {
	switch event.Kind {
	case EventEntry:
		n.log.Info().
			Str("kind", string(event.Kind)).
			Str("symbol", event.Symbol).
			Str("side", event.Side).
			Str("entry", event.Entry.String()).
			Str("size", event.Size.String()).
			Str("stop_loss", event.StopLoss.String()).
			Str("take_profit", event.TakeProfit.String()).
			Str("risk_amount", event.RiskAmount.String()).
			Str("equity", event.Equity.String()).
			Msg("position opened")
	case EventClosed:
		n.log.Info().
			Str("kind", string(event.Kind)).
			Str("symbol", event.Symbol).
			Str("side", event.Side).
			Str("entry", event.Entry.String()).
			Str("exit", event.Exit.String()).
			Str("size", event.Size.String()).
			Str("pnl_percent", event.PnLPercent.String()).
			Str("reason", event.Reason).
			Msg("position closed")
	default:
		n.log.Info().Str("kind", string(event.Kind)).Msg("notification")
	}
}
