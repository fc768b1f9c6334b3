// Package channels реализует шину рассылки событий биржи внутренним потребителям.
package channels

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"exchange_core/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Name string

const (
	OHLCV           Name = "OHLCV"
	Kline           Name = "KLINE"
	Ticker          Name = "TICKER"
	MiniTicker      Name = "MINI_TICKER"
	OrderBook       Name = "ORDER_BOOK"
	OrderBookTicker Name = "ORDER_BOOK_TICKER"
	RecentTrades    Name = "RECENT_TRADES"
	Orders          Name = "ORDERS"
	Trades          Name = "TRADES"
	Balance         Name = "BALANCE"
	Positions       Name = "POSITIONS"
	Funding         Name = "FUNDING"
	MarkPrice       Name = "MARK_PRICE"
	Liquidations    Name = "LIQUIDATIONS"
)

var ErrChannelClosed = errors.New("channel closed")

// Wildcard в фильтре совпадает с любым значением.
const Wildcard = "*"

type Priority int

const (
	PriorityHigh Priority = iota + 1
	PriorityMedium
	PriorityLow
)

// Event: одна публикация. Payload зависит от канала (см. payloads.go).
type Event struct {
	Cryptocurrency string
	Symbol         models.Symbol
	TimeFrame      models.TimeFrame
	Payload        any
}

type Callback func(ctx context.Context, ev Event) error

type Filter struct {
	Cryptocurrency string
	Symbol         string
	TimeFrame      string
}

func match(want, got string) bool {
	return want == "" || want == Wildcard || want == got
}

func (f Filter) Match(ev Event) bool {
	return match(f.Cryptocurrency, ev.Cryptocurrency) &&
		match(f.Symbol, string(ev.Symbol)) &&
		match(f.TimeFrame, string(ev.TimeFrame))
}

type Consumer struct {
	id       string
	filter   Filter
	priority Priority
	seq      uint64
	cb       Callback

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) Priority() Priority { return c.priority }

// Channel: один производитель и упорядоченный список потребителей.
type Channel struct {
	name     Name
	exchange string
	log      *zap.Logger
	sync     bool

	pushMu sync.Mutex // публикации в канал строго по очереди

	// queue: публикации из обработчиков этого же канала, доставляются после текущего события
	queueMu    sync.Mutex
	delivering bool
	queue      []Event

	mu        sync.RWMutex
	consumers []*Consumer
	seq       uint64
	closed    atomic.Bool
}

func newChannel(name Name, exchange string, synchronous bool, log *zap.Logger) *Channel {
	return &Channel{
		name:     name,
		exchange: exchange,
		sync:     synchronous,
		log:      log.With(zap.String("channel", string(name))),
	}
}

func (c *Channel) Name() Name { return c.name }

// Subscribe регистрирует потребителя. Повторная регистрация того же id возвращает существующего.
func (c *Channel) Subscribe(id string, filter Filter, priority Priority, cb Callback) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.consumers {
		if existing.id == id {
			return existing
		}
	}
	if priority < PriorityHigh || priority > PriorityLow {
		priority = PriorityMedium
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.seq++
	cons := &Consumer{
		id:       id,
		filter:   filter,
		priority: priority,
		seq:      c.seq,
		cb:       cb,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.consumers = append(c.consumers, cons)
	sort.SliceStable(c.consumers, func(i, j int) bool {
		a, b := c.consumers[i], c.consumers[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	return cons
}

// Unsubscribe снимает потребителя и отменяет недоставленные ему события.
func (c *Channel) Unsubscribe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, cons := range c.consumers {
		if cons.id == id {
			cons.cancel()
			c.consumers = append(c.consumers[:i:i], c.consumers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Channel) Consumers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.consumers)
}

// deliveryKey помечает ctx обработчика: публикация с таким ctx в тот же канал становится в очередь.
type deliveryKey struct{ ch *Channel }

// Push синхронно доставляет событие всем подходящим потребителям в порядке приоритета.
// Следующая публикация в этот канал ждёт, пока текущая не обойдёт всех потребителей.
// Публикация изнутри обработчика (с его ctx) не блокируется: событие доставляется сразу после текущего.
func (c *Channel) Push(ctx context.Context, ev Event) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if ctx.Value(deliveryKey{c}) != nil && c.enqueue(ev) {
		return nil
	}

	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.queueMu.Lock()
	c.delivering = true
	c.queueMu.Unlock()
	defer c.resetQueue()

	if err := c.deliver(ctx, ev); err != nil {
		return err
	}
	for {
		next, ok := c.dequeue()
		if !ok {
			return nil
		}
		if err := c.deliver(ctx, next); err != nil {
			return err
		}
	}
}

func (c *Channel) enqueue(ev Event) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if !c.delivering {
		return false
	}
	c.queue = append(c.queue, ev)
	return true
}

// dequeue снимает флаг доставки на пустой очереди, чтобы поздние публикации шли обычным путём.
func (c *Channel) dequeue() (Event, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		c.delivering = false
		return Event{}, false
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, true
}

func (c *Channel) resetQueue() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if n := len(c.queue); n > 0 {
		c.log.Warn("queued events dropped", zap.String("exchange", c.exchange), zap.Int("count", n))
	}
	c.queue = nil
	c.delivering = false
}

func (c *Channel) deliver(ctx context.Context, ev Event) error {
	c.mu.RLock()
	targets := append([]*Consumer(nil), c.consumers...)
	c.mu.RUnlock()

	for _, cons := range targets {
		if !c.sync {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if c.closed.Load() {
			return ErrChannelClosed
		}
		if cons.ctx.Err() != nil || !cons.filter.Match(ev) {
			continue
		}
		cctx := context.WithValue(cons.ctx, deliveryKey{c}, true)
		if err := cons.cb(cctx, ev); err != nil {
			c.log.Warn("consumer failed",
				zap.String("exchange", c.exchange),
				zap.String("consumer", cons.id),
				zap.String("symbol", string(ev.Symbol)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Stop закрывает канал: дальнейшие Push возвращают ErrChannelClosed.
func (c *Channel) Stop() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	for _, cons := range c.consumers {
		cons.cancel()
	}
	c.consumers = nil
	c.mu.Unlock()
}

func (c *Channel) Closed() bool { return c.closed.Load() }
