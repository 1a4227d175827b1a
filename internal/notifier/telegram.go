package notifier

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier posts entry/closed events to one configured chat. A send
// failure is logged and swallowed — never propagated to trading state.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier constructs a TelegramNotifier from a bot token and
// destination chat id.
func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log.With().Str("component", "notifier.telegram").Logger()}, nil
}

// Emit formats event and sends it; failures are logged and swallowed.
func (n *TelegramNotifier) Emit(event Event) {
	msg := tgbotapi.NewMessage(n.chatID, format(event))
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("telegram send failed")
	}
}

func format(event Event) string {
	switch event.Kind {
	case EventEntry:
		return fmt.Sprintf("🟢 ENTRY %s %s\nentry=%s size=%s\nSL=%s TP=%s\nrisk=%s equity=%s",
			event.Symbol, event.Side, event.Entry, event.Size, event.StopLoss, event.TakeProfit, event.RiskAmount, event.Equity)
	case EventClosed:
		return fmt.Sprintf("🔴 CLOSED %s %s (%s)\nentry=%s exit=%s size=%s\npnl=%s%%",
			event.Symbol, event.Side, event.Reason, event.Entry, event.Exit, event.Size, event.PnLPercent)
	default:
		return fmt.Sprintf("event: %s %s", event.Kind, event.Symbol)
	}
}
