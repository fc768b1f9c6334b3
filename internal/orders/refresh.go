package orders

import (
	"context"
	"time"

	"exchange_core/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OnRefreshSuccessful применяет состояние ордера, полученное с биржи (REST или поток ордеров).
// Повторный вызов с тем же состоянием ничего не меняет: обновление принимается, только если
// состояние продвигается дальше по автомату или в том же состоянии вырос исполненный объём.
func (m *Manager) OnRefreshSuccessful(ctx context.Context, upd models.Order) error {
	return m.run(ctx, func(tx *txn) error {
		t := m.lookup(upd)
		if t == nil {
			m.log.Debug("update for unknown order",
				zap.String("order_id", upd.OrderID),
				zap.String("exchange_order_id", upd.ExchangeOrderID))
			return errors.Wrapf(models.ErrOrderNotFound, "order %s/%s", upd.OrderID, upd.ExchangeOrderID)
		}
		t.failures = 0
		m.apply(ctx, tx, t, upd)
		return nil
	})
}

func (m *Manager) lookup(upd models.Order) *tracked {
	if upd.OrderID != "" {
		if t, ok := m.orders[upd.OrderID]; ok {
			return t
		}
	}
	if upd.ExchangeOrderID == "" {
		return nil
	}
	for _, t := range m.orders {
		if t.order.ExchangeOrderID == upd.ExchangeOrderID {
			return t
		}
	}
	return nil
}

func (m *Manager) apply(ctx context.Context, tx *txn, t *tracked, upd models.Order) {
	if t.state.Terminal() {
		return
	}
	to, ok := stateOf(upd.Status)
	if !ok {
		m.log.Warn("order update without known status",
			zap.String("order_id", t.order.OrderID),
			zap.String("status", string(upd.Status)))
		return
	}
	switch {
	case to.rank() > t.state.rank():
	case to == t.state && upd.FilledAmount.GreaterThan(t.order.FilledAmount):
	default:
		return
	}
	m.merge(t, upd)
	m.advance(ctx, tx, t, to)
}

// Refresh запрашивает состояние ордера у биржи. После MaxRefreshFailures неудач подряд ордер
// закрывается со статусом expired и возвращается ошибка ErrOrderUnreachable.
func (m *Manager) Refresh(ctx context.Context, orderID string) error {
	return m.run(ctx, func(tx *txn) error {
		t, ok := m.orders[orderID]
		if !ok {
			return errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
		}
		if t.state.Terminal() || !t.state.Submitted() {
			return nil
		}
		res, err := m.exchange.GetOrder(ctx, t.snapshot())
		if err != nil {
			t.failures++
			if t.failures < m.cfg.MaxRefreshFailures {
				m.log.Warn("order refresh failed",
					zap.String("order_id", orderID),
					zap.Int("failures", t.failures),
					zap.Error(err))
				return errors.Wrapf(err, "refresh order %s", orderID)
			}
			m.log.Error("order unreachable",
				zap.String("order_id", orderID),
				zap.Int("failures", t.failures),
				zap.Error(err))
			t.order.Status = models.StatusExpired
			m.advance(ctx, tx, t, StateCanceled)
			return errors.Wrapf(models.ErrOrderUnreachable, "order %s after %d failed refreshes: %v",
				orderID, t.failures, err)
		}
		t.failures = 0
		m.apply(ctx, tx, t, res)
		return nil
	})
}

// RefreshAll обновляет все отправленные нетерминальные ордера и проверяет таймауты.
// В бэктесте вызывается синхронно на каждом шаге симуляции.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	var ids []string
	for _, t := range m.sorted() {
		if !t.state.Terminal() && t.state.Submitted() {
			ids = append(ids, t.order.OrderID)
		}
	}
	m.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, m.Refresh(ctx, id))
	}
	return multierr.Append(errs, m.CheckTimeouts(ctx))
}

// Run периодически обновляет ордера, пока не отменён ctx. В бэктесте сразу возвращается.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.Backtesting || m.cfg.RefreshInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick: один проход Run. Ошибки обновления уже залогированы в Refresh, эскалации дублируются на ERROR.
func (m *Manager) tick(ctx context.Context) {
	if err := m.RefreshAll(ctx); err != nil && ctx.Err() == nil {
		for _, e := range multierr.Errors(err) {
			if errors.Is(e, models.ErrOrderUnreachable) {
				m.log.Error("order escalated", zap.Error(e))
			}
		}
	}
	if n := m.Forget(); n > 0 {
		m.log.Debug("terminal orders forgotten", zap.Int("count", n))
	}
}
