package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exchange_core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func recorder(out *[]string, name string) Callback {
	return func(ctx context.Context, ev Event) error {
		*out = append(*out, name)
		return nil
	}
}

func TestPushOrdersByPriorityThenRegistration(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Ticker)

	var calls []string
	ch.Subscribe("low", Filter{}, PriorityLow, recorder(&calls, "low"))
	ch.Subscribe("high-1", Filter{}, PriorityHigh, recorder(&calls, "high-1"))
	ch.Subscribe("medium", Filter{}, PriorityMedium, recorder(&calls, "medium"))
	ch.Subscribe("high-2", Filter{}, PriorityHigh, recorder(&calls, "high-2"))

	require.NoError(t, ch.Push(context.Background(), Event{Symbol: "BTC/USDT"}))
	assert.Equal(t, []string{"high-1", "high-2", "medium", "low"}, calls)
}

func TestFilterWildcards(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(OHLCV)

	var calls []string
	ch.Subscribe("any", Filter{Symbol: Wildcard}, PriorityMedium, recorder(&calls, "any"))
	ch.Subscribe("btc-1m", Filter{Symbol: "BTC/USDT", TimeFrame: "1m"}, PriorityMedium, recorder(&calls, "btc-1m"))
	ch.Subscribe("eth", Filter{Cryptocurrency: "ETH"}, PriorityMedium, recorder(&calls, "eth"))

	ctx := context.Background()
	require.NoError(t, ch.Push(ctx, Event{Cryptocurrency: "BTC", Symbol: "BTC/USDT", TimeFrame: models.TF1m}))
	require.NoError(t, ch.Push(ctx, Event{Cryptocurrency: "BTC", Symbol: "BTC/USDT", TimeFrame: models.TF5m}))
	require.NoError(t, ch.Push(ctx, Event{Cryptocurrency: "ETH", Symbol: "ETH/USDT", TimeFrame: models.TF1m}))

	assert.Equal(t, []string{"any", "btc-1m", "any", "any", "eth"}, calls)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Orders)

	var calls []string
	first := ch.Subscribe("strategy", Filter{}, PriorityHigh, recorder(&calls, "a"))
	second := ch.Subscribe("strategy", Filter{}, PriorityLow, recorder(&calls, "b"))
	assert.Same(t, first, second)
	assert.Equal(t, 1, ch.Consumers())

	require.NoError(t, ch.Push(context.Background(), Event{}))
	assert.Equal(t, []string{"a"}, calls)
}

func TestUnsubscribeSkipsPendingDelivery(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Trades)

	var calls []string
	ch.Subscribe("first", Filter{}, PriorityHigh, func(ctx context.Context, ev Event) error {
		calls = append(calls, "first")
		ch.Unsubscribe("second")
		return nil
	})
	second := ch.Subscribe("second", Filter{}, PriorityLow, recorder(&calls, "second"))

	require.NoError(t, ch.Push(context.Background(), Event{}))
	assert.Equal(t, []string{"first"}, calls)
	assert.Error(t, second.ctx.Err())
	assert.False(t, ch.Unsubscribe("second"))
}

func TestConsumerErrorDoesNotStopDelivery(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cs := New("okx", false, zap.New(core))
	ch := cs.Get(Balance)

	var calls []string
	ch.Subscribe("broken", Filter{}, PriorityHigh, func(context.Context, Event) error {
		return errors.New("boom")
	})
	ch.Subscribe("ok", Filter{}, PriorityLow, recorder(&calls, "ok"))

	require.NoError(t, ch.Push(context.Background(), Event{}))
	assert.Equal(t, []string{"ok"}, calls)
	assert.Equal(t, 1, logs.FilterMessage("consumer failed").Len())
}

func TestPushSerializedPerChannel(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Kline)

	var (
		mu     sync.Mutex
		active int
		maxAct int
		seen   []int
	)
	ch.Subscribe("slow", Filter{}, PriorityMedium, func(ctx context.Context, ev Event) error {
		mu.Lock()
		active++
		if active > maxAct {
			maxAct = active
		}
		seen = append(seen, ev.Payload.(int))
		mu.Unlock()

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = ch.Push(context.Background(), Event{Payload: i})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxAct)
	assert.Len(t, seen, 50)
}

func TestCanceledProducerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	async := New("okx", false, zaptest.NewLogger(t)).Get(Ticker)
	async.Subscribe("c", Filter{}, PriorityMedium, recorder(&calls, "async"))
	assert.ErrorIs(t, async.Push(ctx, Event{}), context.Canceled)

	// в синхронном режиме отмена контекста производителя не проверяется
	synchronous := New("sim", true, zaptest.NewLogger(t)).Get(Ticker)
	synchronous.Subscribe("c", Filter{}, PriorityMedium, recorder(&calls, "sync"))
	require.NoError(t, synchronous.Push(ctx, Event{}))
	assert.Equal(t, []string{"sync"}, calls)
}

func TestStop(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Positions)
	cons := ch.Subscribe("c", Filter{}, PriorityMedium, func(context.Context, Event) error { return nil })

	cs.Stop()
	assert.ErrorIs(t, ch.Push(context.Background(), Event{}), ErrChannelClosed)
	assert.Error(t, cons.ctx.Err())
	assert.True(t, cs.Get(Funding).Closed())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	cs := New("okx", false, zaptest.NewLogger(t))
	r.Register(cs)

	got, ok := r.Get("okx")
	require.True(t, ok)
	assert.Same(t, cs, got)

	r.Remove("okx")
	_, ok = r.Get("okx")
	assert.False(t, ok)
	assert.True(t, cs.Get(Ticker).Closed())
}

func TestPushFromConsumerIsQueued(t *testing.T) {
	cs := New("okx", false, zaptest.NewLogger(t))
	ch := cs.Get(Orders)

	var calls []string
	ch.Subscribe("reactor", Filter{}, PriorityHigh, func(ctx context.Context, ev Event) error {
		calls = append(calls, "reactor:"+string(ev.Symbol))
		if ev.Symbol == "BTC/USDT" {
			return ch.Push(ctx, Event{Symbol: "ETH/USDT"})
		}
		return nil
	})
	ch.Subscribe("tail", Filter{}, PriorityLow, func(ctx context.Context, ev Event) error {
		calls = append(calls, "tail:"+string(ev.Symbol))
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- ch.Push(context.Background(), Event{Symbol: "BTC/USDT"}) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("push from consumer blocked")
	}
	assert.Equal(t, []string{"reactor:BTC/USDT", "tail:BTC/USDT", "reactor:ETH/USDT", "tail:ETH/USDT"}, calls)

	require.NoError(t, ch.Push(context.Background(), Event{Symbol: "SOL/USDT"}))
	assert.Len(t, calls, 6)
}
