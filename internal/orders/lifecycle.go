package orders

import (
	"context"

	"exchange_core/internal/models"

	"go.uber.org/zap"
)

// submitWithBundled отправляет ордер, затем связанные ордера, помеченные BundledWithParent.
func (m *Manager) submitWithBundled(ctx context.Context, tx *txn, t *tracked) error {
	if err := m.submit(ctx, tx, t); err != nil {
		return err
	}
	for _, id := range t.children {
		child, ok := m.orders[id]
		if !ok || !child.order.BundledWithParent || child.state != StatePendingCreationChained {
			continue
		}
		m.transition(tx, child, StatePendingCreation, false)
		if err := m.submit(ctx, tx, child); err != nil {
			m.log.Warn("bundled order creation failed",
				zap.String("order_id", child.order.OrderID),
				zap.String("parent_id", t.order.OrderID),
				zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) onFilled(ctx context.Context, tx *txn, t *tracked) {
	if g := m.groupOf(t); g != nil && g.policy == models.GroupOneCancelsOther {
		if g.resolvedBy != "" && g.resolvedBy != t.order.OrderID {
			m.log.Warn("order filled after its group was resolved",
				zap.String("order_id", t.order.OrderID),
				zap.String("group_id", g.id),
				zap.String("resolved_by", g.resolvedBy))
		} else {
			g.resolvedBy = t.order.OrderID
			for _, peer := range m.members(g) {
				if peer == t || peer.state.Terminal() {
					continue
				}
				if err := m.cancel(ctx, tx, peer); err != nil {
					m.log.Warn("group peer cancel failed",
						zap.String("order_id", peer.order.OrderID),
						zap.String("group_id", g.id),
						zap.Error(err))
				}
			}
		}
	}

	for _, id := range t.children {
		child, ok := m.orders[id]
		if !ok || child.state != StatePendingCreationChained {
			continue
		}
		inheritFromParent(&child.order, t.order)
		m.transition(tx, child, StatePendingCreation, false)
		if err := m.submit(ctx, tx, child); err != nil {
			m.log.Warn("chained order creation failed",
				zap.String("order_id", child.order.OrderID),
				zap.String("parent_id", t.order.OrderID),
				zap.Error(err))
		}
	}
}

// inheritFromParent: при UpdateWithTriggeringOrderFees связанный ордер берёт цену исполнения родителя
// (если своей нет) и уменьшает количество на комиссию, списанную в базовой валюте.
func inheritFromParent(child *models.Order, parent models.Order) {
	if !child.UpdateWithTriggeringOrderFees {
		return
	}
	if child.OriginPrice.IsZero() && !parent.AverageFillPrice.IsZero() {
		child.OriginPrice = parent.AverageFillPrice
	}
	if f := parent.Fee; f != nil && f.Cost.IsPositive() && f.Currency == parent.Symbol.Base() {
		if reduced := child.OriginAmount.Sub(f.Cost); reduced.IsPositive() {
			child.OriginAmount = reduced
			child.SyncRemaining()
		}
	}
}

func (m *Manager) onCanceled(ctx context.Context, tx *txn, t *tracked) {
	for _, id := range t.children {
		child, ok := m.orders[id]
		if !ok || child.state.Terminal() {
			continue
		}
		// не отправленный связанный ордер больше не сработает
		if child.state == StatePendingCreationChained {
			child.order.Status = models.StatusCanceled
			m.advance(ctx, tx, child, StateCanceled)
			continue
		}
		if child.order.CancelPolicy != models.CancelPolicyOnParentCancel {
			continue
		}
		if err := m.cancel(ctx, tx, child); err != nil {
			m.log.Warn("chained order cancel failed",
				zap.String("order_id", child.order.OrderID),
				zap.String("parent_id", t.order.OrderID),
				zap.Error(err))
		}
	}
}
