package notify

import (
	"context"
	"testing"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeBot struct {
	sent []tgbot.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	if msg, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbot.Message{}, f.err
}

type memNotifier struct{ msgs []string }

func (m *memNotifier) Send(msg string)                  { m.msgs = append(m.msgs, msg) }
func (m *memNotifier) Sendf(format string, args ...any) { m.msgs = append(m.msgs, format) }

func TestTelegramSendsToChat(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, 42, zaptest.NewLogger(t))
	tg.Sendf("hello %s", "world")

	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "hello world", bot.sent[0].Text)
}

func TestTelegramWithoutChatIsSilent(t *testing.T) {
	bot := &fakeBot{}
	newTelegram(bot, 0, zaptest.NewLogger(t)).Send("x")
	assert.Empty(t, bot.sent)

	var nilTg *Telegram
	assert.NotPanics(t, func() { nilTg.Send("x") })
}

func TestTelegramSendErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tg := newTelegram(&fakeBot{err: errors.New("flood")}, 1, zap.New(core))
	tg.Send("x")
	assert.Equal(t, 1, logs.FilterMessage("telegram send failed").Len())
}

func TestNewFallsBackToLog(t *testing.T) {
	n, err := New("", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)
}

func TestOrdersConsumerNotifiesTerminalOnly(t *testing.T) {
	n := &memNotifier{}
	cb := OrdersConsumer("okx", n)
	ctx := context.Background()

	open := models.Order{OrderID: "a", Symbol: "BTC/USDT", Side: models.SideBuy, Type: models.OrderLimit, Status: models.StatusOpen}
	require.NoError(t, cb(ctx, channels.Event{Payload: channels.OrderUpdate{Symbol: open.Symbol, Order: open}}))
	assert.Empty(t, n.msgs)

	filled := open
	filled.Status = models.StatusFilled
	filled.OriginAmount = decimal.NewFromInt(2)
	filled.FilledAmount = decimal.NewFromInt(2)
	filled.AverageFillPrice = decimal.NewFromInt(100)
	require.NoError(t, cb(ctx, channels.Event{Payload: channels.OrderUpdate{Symbol: filled.Symbol, Order: filled}}))
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "OKX BTC/USDT BUY")
	assert.Contains(t, n.msgs[0], "filled=2 @ 100")
	assert.Contains(t, n.msgs[0], "id=a")

	assert.Error(t, cb(ctx, channels.Event{Payload: "garbage"}))
}
