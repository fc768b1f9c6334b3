package websocket

import (
	"context"
	"time"

	"exchange_core/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	maxImmediateRetries = 3

	unknownWarnEvery  = 5000
	unknownDebugEvery = 1000

	initFastPoll   = 100 * time.Millisecond
	initSlowPoll   = time.Second
	initFastWindow = time.Second
)

// feedState: счётчики ошибок одной задачи фида.
type feedState struct {
	immediate    int
	reconnects   int
	badRequests  int
	closedByUser int
	unknown      int
}

func (s *feedState) delivered() {
	s.immediate = 0
	s.reconnects = 0
	s.badRequests = 0
	s.closedByUser = 0
}

func (c *Connector) runFeed(ctx context.Context, sub Subscription) {
	log := c.log.With(zap.String("feed", sub.Key()))
	if sub.Spec.RequiresInit && !c.awaitInitialized(ctx, sub, log) {
		return
	}
	handler := c.handlers[sub.Feed]

	var st feedState
	for !c.shouldStop(ctx) {
		client := c.currentClient()
		if client == nil {
			return
		}
		recs, err := client.Watch(ctx, sub)
		if err != nil {
			if !c.handleError(ctx, sub, &st, err, log) {
				return
			}
			continue
		}
		st.delivered()
		c.touch()

		if err := handler(ctx, sub, models.CloneRecords(recs)); err != nil {
			if c.shouldStop(ctx) {
				return
			}
			log.Warn("feed callback failed", zap.Error(err))
		}

		if c.cfg.ThrottledWsUpdates > 0 && sub.Spec.Throttleable {
			if !sleep(ctx, c.cfg.ThrottledWsUpdates) {
				return
			}
		}
	}
}

func (c *Connector) shouldStop(ctx context.Context) bool {
	return c.stopping.Load() || ctx.Err() != nil
}

// handleError решает по категории ошибки, продолжать ли задачу.
func (c *Connector) handleError(ctx context.Context, sub Subscription, st *feedState, err error, log *zap.Logger) bool {
	if c.shouldStop(ctx) {
		return false
	}
	kind := Classify(err)
	switch kind {
	case KindNetwork, KindTimeout, KindAbruptClose:
		if c.sinceLastMessage() < c.cfg.NoMessageDisconnectedTimeout && st.immediate < maxImmediateRetries {
			st.immediate++
			log.Debug("feed error, retrying immediately", zap.Stringer("kind", kind), zap.Error(err))
			return true
		}
		st.immediate = 0
		c.Reconnect("feed " + sub.Key() + ": " + kind.String())
		delay := c.cfg.LongReconnectDelay
		if st.reconnects == 0 {
			delay = c.cfg.ShortReconnectDelay
		}
		st.reconnects++
		log.Warn("feed disconnected",
			zap.Stringer("kind", kind),
			zap.Int("attempt", st.reconnects),
			zap.Duration("delay", delay),
			zap.Error(err))
		return sleep(ctx, delay)

	case KindBadRequest:
		st.badRequests++
		if st.badRequests > 1 {
			log.Error("feed rejected by exchange, stopping feed", zap.Error(err))
			return false
		}
		log.Warn("feed rejected by exchange, retrying", zap.Error(err))
		return sleep(ctx, c.cfg.LongReconnectDelay)

	case KindNotSupported:
		log.Error("feed not supported, stopping feed", zap.Error(err))
		return false

	case KindClosedByUser:
		st.closedByUser++
		if st.closedByUser == 1 {
			return true
		}
		log.Debug("connection closed by user", zap.Int("count", st.closedByUser))
		return sleep(ctx, c.cfg.ShortReconnectDelay)
	}

	st.unknown++
	switch {
	case st.unknown == 1:
		log.Error("unexpected feed error", zap.Error(err))
	case st.unknown%unknownWarnEvery == 0:
		log.Warn("unexpected feed errors keep happening", zap.Int("count", st.unknown), zap.Error(err))
	case st.unknown%unknownDebugEvery == 0:
		log.Debug("unexpected feed errors", zap.Int("count", st.unknown), zap.Error(err))
	}
	return sleep(ctx, c.cfg.LongReconnectDelay)
}

// awaitInitialized ждёт, пока бэкфилл наполнит хранилище свечей.
func (c *Connector) awaitInitialized(ctx context.Context, sub Subscription, log *zap.Logger) bool {
	if c.store == nil {
		return true
	}
	start := time.Now()
	deadline := start.Add(c.cfg.FeedInitializationTimeout)
	for {
		if c.store.Initialized(sub.Symbol, sub.TimeFrame) {
			return true
		}
		if time.Now().After(deadline) {
			log.Error("feed initialization timeout",
				zap.Duration("timeout", c.cfg.FeedInitializationTimeout))
			return false
		}
		poll := initSlowPoll
		if time.Since(start) < initFastWindow {
			poll = initFastPoll
		}
		if !sleep(ctx, poll) {
			return false
		}
	}
}

// watchdog шлёт пинги и переподключает сессию, если сообщений давно не было.
func (c *Connector) watchdog(ctx context.Context) error {
	if c.cfg.TimeoutInterval <= 0 {
		return nil
	}
	t := time.NewTicker(c.cfg.TimeoutInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if c.stopping.Load() {
			return nil
		}
		if cl := c.currentClient(); cl != nil {
			if err := cl.Ping(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Debug("keepalive ping failed", zap.Error(err))
			}
		}
		if c.cfg.Timeout > 0 && c.sinceLastMessage() > c.cfg.Timeout {
			c.Reconnect("no message received within timeout")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
