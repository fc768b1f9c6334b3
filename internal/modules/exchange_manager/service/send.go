package service

import (
	"context"

	"exchange_core/internal/models"
	"exchange_core/internal/signals"
	"exchange_core/pkg/tracing"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SendBundle публикует сигналы пакета в порядке зависимостей. Сигнал, зависящий от неудавшегося,
// не отправляется. Ошибки всех сигналов собираются в одну.
func (m *Manager) SendBundle(ctx context.Context, bundle *signals.Bundle) (err error) {
	if bundle == nil || bundle.Empty() {
		return nil
	}
	if bundle.Exchange != "" && bundle.Exchange != m.name {
		return errors.Wrapf(models.ErrInvalidState, "bundle for %s sent to %s", bundle.Exchange, m.name)
	}

	span, ctx := tracing.StartSpan(ctx, m.name, "send_bundle")
	defer func() { tracing.Finish(span, err) }()

	ordered, err := bundle.PublishOrder()
	if err != nil {
		return err
	}

	failed := make(map[string]struct{})
	var errs error
	for _, sig := range ordered {
		s := sig.Content
		if sig.Topic != models.TopicOrders {
			m.log.Debug("signal topic skipped", zap.String("topic", string(sig.Topic)))
			continue
		}
		if dep, blocked := blockedBy(sig.Dependencies, failed); blocked {
			markFailed(failed, s)
			errs = multierr.Append(errs, errors.Wrapf(models.ErrInvalidState,
				"%s %s: dependency %s failed", s.Action, s.Order.OrderID, dep))
			continue
		}
		if err := m.send(ctx, s); err != nil {
			markFailed(failed, s)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func blockedBy(deps []models.Dependency, failed map[string]struct{}) (string, bool) {
	for _, d := range deps {
		if d.OrderID == "" {
			continue
		}
		if _, ok := failed[d.OrderID]; ok {
			return d.OrderID, true
		}
	}
	return "", false
}

func markFailed(failed map[string]struct{}, s models.OrderSignal) {
	failed[s.Order.OrderID] = struct{}{}
	for _, add := range s.AdditionalOrders {
		failed[add.Order.OrderID] = struct{}{}
	}
}

func (m *Manager) send(ctx context.Context, s models.OrderSignal) error {
	id := s.Order.OrderID
	switch s.Action {
	case models.ActionCreate:
		return m.create(ctx, s)
	case models.ActionCancel:
		_, err := m.orders.Cancel(ctx, id)
		return err
	case models.ActionEdit:
		return m.withMarketsRetry(ctx, id, func() error {
			_, err := m.orders.Edit(ctx, id, s.Edit)
			return err
		})
	case models.ActionAddToGroup:
		return m.orders.AddToGroup(ctx, id, s.GroupID, s.GroupPolicy)
	}
	return errors.Wrapf(models.ErrNotSupported, "signal action %q", s.Action)
}

// create отправляет ордер вместе с упакованными в сигнал ордерами: связанные с ним уходят в ChainedOrders,
// остальные (та же группа, связанные с дочерними) создаются следом.
func (m *Manager) create(ctx context.Context, s models.OrderSignal) error {
	order := s.Order
	if s.GroupID != "" && order.GroupID == "" {
		order.GroupID = s.GroupID
	}
	if s.GroupID != "" && s.GroupPolicy != "" {
		m.orders.EnsureGroup(s.GroupID, s.GroupPolicy)
	}

	var rest []models.Order
	for _, add := range s.AdditionalOrders {
		child := add.Order
		if child.TriggeringOrderID == order.OrderID && !hasChained(order, child.OrderID) {
			order.ChainedOrders = append(order.ChainedOrders, child)
			continue
		}
		if child.TriggeringOrderID != order.OrderID {
			rest = append(rest, child)
		}
	}

	err := m.withMarketsRetry(ctx, order.OrderID, func() error {
		_, err := m.orders.Create(ctx, order)
		return err
	})
	if err != nil {
		return err
	}

	var errs error
	for _, o := range rest {
		errs = multierr.Append(errs, m.withMarketsRetry(ctx, o.OrderID, func() error {
			_, err := m.orders.Create(ctx, o)
			return err
		}))
	}
	return errs
}

func hasChained(order models.Order, id string) bool {
	for _, c := range order.ChainedOrders {
		if c.OrderID == id {
			return true
		}
	}
	return false
}

// withMarketsRetry повторяет операцию один раз после перезагрузки правил рынков,
// если биржа отклонила ордер как некорректный (сменились шаг цены или лот).
func (m *Manager) withMarketsRetry(ctx context.Context, orderID string, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, models.ErrInvalidOrder) {
		return err
	}
	if rerr := m.LoadMarkets(ctx); rerr != nil {
		return multierr.Append(err, rerr)
	}
	m.log.Info("retrying order after market rules reload", zap.String("order_id", orderID), zap.Error(err))
	return op()
}
