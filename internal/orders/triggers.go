package orders

import (
	"context"
	"math"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OnPrice отправляет ордера, чей активный триггер пересечён ценой, и двигает трейлинг-стопы.
func (m *Manager) OnPrice(ctx context.Context, symbol models.Symbol, price float64) error {
	return m.run(ctx, func(tx *txn) error {
		var errs error
		for _, t := range m.sorted() {
			if t.order.Symbol != symbol {
				continue
			}
			switch {
			case t.state == StateInactive && t.order.ActiveTrigger != nil && t.order.ActiveTrigger.Crossed(price):
				m.log.Info("active trigger crossed",
					zap.String("order_id", t.order.OrderID),
					zap.Float64("trigger", t.order.ActiveTrigger.Price),
					zap.Float64("price", price))
				t.order.IsActive = true
				m.transition(tx, t, StatePendingCreation, false)
				errs = multierr.Append(errs, m.submitWithBundled(ctx, tx, t))
			case t.order.TrailingProfile != nil && (t.state == StateOpen || t.state == StatePartiallyFilled):
				errs = multierr.Append(errs, m.trail(ctx, tx, t, price))
			}
		}
		return errs
	})
}

// trail переносит стоп на последний достигнутый шаг профиля; пройденные шаги удаляются.
func (m *Manager) trail(ctx context.Context, tx *txn, t *tracked, price float64) error {
	steps := t.order.TrailingProfile.Steps
	n := 0
	for n < len(steps) && stepReached(t.order.Side, price, steps[n].TriggerPrice) {
		n++
	}
	if n == 0 {
		return nil
	}
	stop := decimal.NewFromFloat(steps[n-1].StopPrice)
	t.order.TrailingProfile = &models.TrailingProfile{Steps: append([]models.TrailingStep(nil), steps[n:]...)}
	if stop.Equal(t.order.StopPrice) {
		return nil
	}
	return m.edit(ctx, tx, t, models.OrderEdit{StopPrice: &stop})
}

// stepReached: стоп на продажу защищает лонг и подтягивается при росте цены, на покупку наоборот.
func stepReached(side models.Side, price, trigger float64) bool {
	if side == models.SideBuy {
		return price <= trigger
	}
	return price >= trigger
}

// CheckTimeouts возвращает в OPEN ордера, отмена которых не подтвердилась за CancelTimeout,
// и отправляет запасной формой ордера, чей триггер не сработал за ActiveSwapTimeout.
func (m *Manager) CheckTimeouts(ctx context.Context) error {
	return m.run(ctx, func(tx *txn) error {
		now := m.now()
		var errs error
		for _, t := range m.sorted() {
			switch {
			case t.state == StateCanceling && m.cfg.CancelTimeout > 0 && !t.cancelAt.IsZero() &&
				now.Sub(t.cancelAt) >= m.cfg.CancelTimeout:
				m.log.Warn("order cancel timed out",
					zap.String("order_id", t.order.OrderID),
					zap.Duration("timeout", m.cfg.CancelTimeout))
				to := StateOpen
				if t.order.FilledAmount.IsPositive() {
					to = StatePartiallyFilled
				}
				m.transition(tx, t, to, false)

			case t.state == StateInactive && m.cfg.ActiveSwapTimeout > 0 && t.order.ActiveTrigger != nil &&
				t.order.ActiveTrigger.FallbackType != "" && now.Sub(t.inactiveAt) >= m.cfg.ActiveSwapTimeout:
				m.log.Info("active trigger timed out, using fallback order type",
					zap.String("order_id", t.order.OrderID),
					zap.String("fallback", string(t.order.ActiveTrigger.FallbackType)))
				t.order.Type = t.order.ActiveTrigger.FallbackType
				t.order.ActiveTrigger = nil
				t.order.IsActive = true
				m.transition(tx, t, StatePendingCreation, false)
				errs = multierr.Append(errs, m.submitWithBundled(ctx, tx, t))
			}
		}
		return errs
	})
}

// TickerConsumer: потребитель канала TICKER, передающий последнюю цену в OnPrice.
func (m *Manager) TickerConsumer() channels.Callback {
	return func(ctx context.Context, ev channels.Event) error {
		upd, ok := ev.Payload.(channels.TickerUpdate)
		if !ok {
			return nil
		}
		price := upd.Ticker.Last
		if math.IsNaN(price) {
			price = upd.Ticker.Close
		}
		if math.IsNaN(price) || price <= 0 {
			return nil
		}
		return m.OnPrice(ctx, upd.Symbol, price)
	}
}
