package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"

	"go.uber.org/zap"
)

// CandleStore: локальное хранилище свечей, которое заполняет REST-бэкфилл.
type CandleStore interface {
	Initialized(symbol models.Symbol, tf models.TimeFrame) bool
	// Upsert вставляет или обновляет свечу; known == true, если свеча с таким openTime уже была.
	Upsert(symbol models.Symbol, tf models.TimeFrame, c models.Candle) (known bool)
}

const (
	unorderedLogEvery    = 1000
	unorderedResetStreak = 3
	unorderedSpacing     = 1.5
	// recentOpenTimes: сколько последних openTime серии помнить для распознавания повторов.
	recentOpenTimes = 64
)

type seriesKey struct {
	symbol models.Symbol
	tf     models.TimeFrame
}

type series struct {
	last       models.Candle
	hasLast    bool
	lastClosed float64

	unordered     int
	spacedStreak  int
	lastUnordered time.Time

	seen     map[float64]struct{}
	seenFIFO []float64
}

func (s *series) known(openTime float64) bool {
	_, ok := s.seen[openTime]
	return ok
}

func (s *series) remember(batch []models.Candle) {
	if s.seen == nil {
		s.seen = make(map[float64]struct{}, recentOpenTimes)
	}
	for _, c := range batch {
		if s.known(c.OpenTime) {
			continue
		}
		s.seen[c.OpenTime] = struct{}{}
		s.seenFIFO = append(s.seenFIFO, c.OpenTime)
		if len(s.seenFIFO) > recentOpenTimes {
			delete(s.seen, s.seenFIFO[0])
			s.seenFIFO = s.seenFIFO[1:]
		}
	}
}

// candleTracker хранит последнюю открытую свечу на серию и решает, что публиковать в OHLCV и KLINE.
type candleTracker struct {
	mu     sync.Mutex
	series map[seriesKey]*series
	store  CandleStore
	log    *zap.Logger
	now    func() time.Time
}

func newCandleTracker(store CandleStore, log *zap.Logger, now func() time.Time) *candleTracker {
	return &candleTracker{
		series: make(map[seriesKey]*series),
		store:  store,
		log:    log,
		now:    now,
	}
}

type candleOutcome struct {
	closed    []models.Candle
	latest    models.Candle
	unordered bool
}

// track обрабатывает пачку свечей от биржи. Последняя свеча пачки считается текущей.
func (t *candleTracker) track(symbol models.Symbol, tf models.TimeFrame, batch []models.Candle) (candleOutcome, bool) {
	if len(batch) == 0 {
		return candleOutcome{}, false
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].OpenTime < batch[j].OpenTime })
	latest := batch[len(batch)-1]

	t.mu.Lock()
	defer t.mu.Unlock()

	key := seriesKey{symbol: symbol, tf: tf}
	s, ok := t.series[key]
	if !ok {
		s = &series{}
		t.series[key] = s
	}

	out := candleOutcome{latest: latest}
	switch {
	case !s.hasLast:
		if len(batch) > 1 {
			out.closed = append(out.closed, batch[len(batch)-2])
		}
	case latest.OpenTime > s.last.OpenTime:
		prevClosed := s.last
		for _, c := range batch[:len(batch)-1] {
			if c.OpenTime == s.last.OpenTime {
				prevClosed = c
			}
		}
		out.closed = append(out.closed, prevClosed)
		for _, c := range batch[:len(batch)-1] {
			if c.OpenTime > s.last.OpenTime {
				out.closed = append(out.closed, c)
			}
		}
	case latest.OpenTime < s.last.OpenTime:
		out.unordered = true
	}

	// повтор уже виденной свечи не считается нарушением порядка, даже без хранилища
	known := s.known(latest.OpenTime)
	s.remember(batch)
	if t.store != nil {
		for _, c := range batch[:len(batch)-1] {
			t.store.Upsert(symbol, tf, c)
		}
		if t.store.Upsert(symbol, tf, latest) {
			known = true
		}
	}

	if out.unordered {
		if !known {
			t.countUnordered(s, symbol, tf, latest)
		}
		return out, true
	}

	// закрытые свечи никогда не откатываются назад
	closed := out.closed[:0]
	for _, c := range out.closed {
		if c.OpenTime > s.lastClosed {
			closed = append(closed, c)
			s.lastClosed = c.OpenTime
		}
	}
	out.closed = closed
	s.last = latest
	s.hasLast = true
	return out, true
}

func (t *candleTracker) countUnordered(s *series, symbol models.Symbol, tf models.TimeFrame, c models.Candle) {
	now := t.now()
	if !s.lastUnordered.IsZero() &&
		now.Sub(s.lastUnordered).Seconds() > unorderedSpacing*float64(tf.Seconds()) {
		s.spacedStreak++
	} else {
		s.spacedStreak = 0
	}
	s.lastUnordered = now
	if s.spacedStreak >= unorderedResetStreak {
		s.unordered = 0
		s.spacedStreak = 0
	}
	s.unordered++
	if s.unordered == 1 || s.unordered%unorderedLogEvery == 0 {
		t.log.Warn("unordered candle",
			zap.String("symbol", string(symbol)),
			zap.String("timeframe", string(tf)),
			zap.Float64("open_time", c.OpenTime),
			zap.Float64("last_open_time", s.last.OpenTime),
			zap.Int("count", s.unordered))
	}
}

func (t *candleTracker) unorderedCount(symbol models.Symbol, tf models.TimeFrame) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.series[seriesKey{symbol: symbol, tf: tf}]; ok {
		return s.unordered
	}
	return 0
}

// publishCandles рассылает закрытые свечи в OHLCV, текущую в KLINE и, для минимального таймфрейма,
// синтетический тикер.
func (c *Connector) publishCandles(ctx context.Context, sub Subscription, batch []models.Candle) error {
	out, ok := c.candles.track(sub.Symbol, sub.TimeFrame, batch)
	if !ok {
		return nil
	}
	base := channels.Event{
		Cryptocurrency: sub.Symbol.Base(),
		Symbol:         sub.Symbol,
		TimeFrame:      sub.TimeFrame,
	}
	for _, closed := range out.closed {
		ev := base
		ev.Payload = channels.CandleUpdate{TimeFrame: sub.TimeFrame, Symbol: sub.Symbol, Candle: closed}
		if err := c.push(ctx, channels.OHLCV, ev); err != nil {
			return err
		}
	}

	ev := base
	ev.Payload = channels.CandleUpdate{TimeFrame: sub.TimeFrame, Symbol: sub.Symbol, Candle: out.latest}
	if err := c.push(ctx, channels.Kline, ev); err != nil {
		return err
	}

	if out.unordered || sub.TimeFrame != c.minTimeFrame {
		return nil
	}
	ticker := models.EmptyTicker(sub.Symbol)
	ticker.Timestamp = float64(c.now().UnixMilli()) / 1000
	ticker.Open = out.latest.Open
	ticker.High = out.latest.High
	ticker.Low = out.latest.Low
	ticker.Close = out.latest.Close
	ticker.Last = out.latest.Close
	ticker.BaseVolume = out.latest.Volume

	tev := base
	tev.TimeFrame = ""
	tev.Payload = channels.TickerUpdate{Symbol: sub.Symbol, Ticker: ticker}
	return c.push(ctx, channels.Ticker, tev)
}
