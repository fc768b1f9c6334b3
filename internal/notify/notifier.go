// Package notify отправляет служебные сообщения и уведомления о закрытых ордерах.
package notify

import (
	"context"
	"fmt"
	"strings"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram: пассивный нотифайер в один чат.
type Telegram struct {
	bot    sender
	chatID int64
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return newTelegram(b, chatID, log), nil
}

func newTelegram(bot sender, chatID int64, log *zap.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log.Named("telegram")}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Log: заглушка без телеграма, пишет в лог.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log.Named("notify")} }

func (l *Log) Send(msg string)                  { l.log.Info(msg) }
func (l *Log) Sendf(format string, args ...any) { l.log.Info(fmt.Sprintf(format, args...)) }

// New выбирает телеграм, если заданы токен и чат, иначе лог.
func New(token string, chatID int64, log *zap.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		return NewLog(log), nil
	}
	return NewTelegram(token, chatID, log)
}

// OrdersConsumer уведомляет о каждом ордере, дошедшем до финального статуса.
func OrdersConsumer(exchange string, n Notifier) channels.Callback {
	return func(_ context.Context, ev channels.Event) error {
		upd, ok := ev.Payload.(channels.OrderUpdate)
		if !ok {
			return errors.Errorf("unexpected orders payload %T", ev.Payload)
		}
		if !upd.Order.Status.Terminal() {
			return nil
		}
		n.Send(FormatOrder(exchange, upd.Order))
		return nil
	}
}

func statusEmoji(s models.OrderStatus) string {
	switch s {
	case models.StatusFilled, models.StatusClosed:
		return "✅"
	case models.StatusRejected, models.StatusExpired:
		return "⚠️"
	}
	return "❌"
}

func FormatOrder(exchange string, o models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s [%s]\n", statusEmoji(o.Status), strings.ToUpper(exchange),
		o.Symbol, strings.ToUpper(string(o.Side)), o.Type, o.Status)
	fmt.Fprintf(&b, "amount=%s filled=%s", o.OriginAmount.String(), o.FilledAmount.String())
	if o.AverageFillPrice.IsPositive() {
		fmt.Fprintf(&b, " @ %s", o.AverageFillPrice.String())
	} else if o.OriginPrice.IsPositive() {
		fmt.Fprintf(&b, " price=%s", o.OriginPrice.String())
	}
	if o.Fee != nil && !o.Fee.Cost.IsZero() {
		fmt.Fprintf(&b, " fee=%s %s", o.Fee.Cost.String(), o.Fee.Currency)
	}
	if o.Tag != "" {
		fmt.Fprintf(&b, "\ntag=%s", o.Tag)
	}
	fmt.Fprintf(&b, "\nid=%s", o.OrderID)
	return b.String()
}
