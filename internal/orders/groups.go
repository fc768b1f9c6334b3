package orders

import (
	"context"

	"exchange_core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type group struct {
	id      string
	policy  models.GroupPolicy
	members []string
	// resolvedBy: первый исполненный ордер OCO-группы.
	resolvedBy string
	balancing  bool
}

// EnsureGroup создаёт группу с политикой policy или уточняет политику существующей.
func (m *Manager) EnsureGroup(id string, policy models.GroupPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureGroup(id, policy)
}

// GroupMembers: id ордеров группы в порядке вступления; false, если группы нет.
func (m *Manager) GroupMembers(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), g.members...), true
}

func (m *Manager) ensureGroup(id string, policy models.GroupPolicy) *group {
	g, ok := m.groups[id]
	if !ok {
		if policy == "" {
			policy = models.GroupOneCancelsOther
		}
		g = &group{id: id, policy: policy}
		m.groups[id] = g
		return g
	}
	if policy != "" {
		g.policy = policy
	}
	return g
}

func (m *Manager) joinGroup(t *tracked, id string, policy models.GroupPolicy) {
	g := m.ensureGroup(id, policy)
	t.order.GroupID = id
	for _, mid := range g.members {
		if mid == t.order.OrderID {
			return
		}
	}
	g.members = append(g.members, t.order.OrderID)
}

func (m *Manager) leaveGroup(t *tracked) {
	g := m.groupOf(t)
	t.order.GroupID = ""
	if g == nil {
		return
	}
	for i, id := range g.members {
		if id == t.order.OrderID {
			g.members = append(g.members[:i:i], g.members[i+1:]...)
			break
		}
	}
	if len(g.members) == 0 {
		delete(m.groups, g.id)
	}
}

func (m *Manager) groupOf(t *tracked) *group {
	if t.order.GroupID == "" {
		return nil
	}
	return m.groups[t.order.GroupID]
}

func (m *Manager) members(g *group) []*tracked {
	out := make([]*tracked, 0, len(g.members))
	for _, id := range g.members {
		if t, ok := m.orders[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// collectGroup удаляет группу, когда все её ордера терминальны.
func (m *Manager) collectGroup(t *tracked) {
	g := m.groupOf(t)
	if g == nil {
		return
	}
	for _, member := range m.members(g) {
		if !member.state.Terminal() {
			return
		}
	}
	delete(m.groups, g.id)
	m.log.Debug("order group collected", zap.String("group_id", g.id))
}

// live: ноги группы, которые ещё можно уменьшать, с разбиением на стопы и тейки.
// Прочие ордера (например, рыночный вход) в балансе не участвуют.
func (m *Manager) live(g *group) (stops, takes []*tracked) {
	for _, member := range m.members(g) {
		if member.state.Terminal() || member.state == StateCanceling {
			continue
		}
		switch {
		case member.order.Type.IsStop():
			stops = append(stops, member)
		case member.order.Type.IsTakeProfit():
			takes = append(takes, member)
		}
	}
	return stops, takes
}

func remaining(legs []*tracked) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range legs {
		sum = sum.Add(l.order.RemainingAmount)
	}
	return sum
}

// reduceOpposite уменьшает противоположную сторону на исполненный объём delta.
func (m *Manager) reduceOpposite(ctx context.Context, tx *txn, g *group, filled *tracked, delta decimal.Decimal) {
	if g.balancing {
		return
	}
	g.balancing = true
	defer func() { g.balancing = false }()

	stops, takes := m.live(g)
	switch {
	case filled.order.Type.IsStop():
		m.shrink(ctx, tx, g, takes, delta)
	case filled.order.Type.IsTakeProfit():
		m.shrink(ctx, tx, g, stops, delta)
	}
}

// rebalance выравнивает суммарный остаток стопов и тейков, если обе стороны ещё живы.
func (m *Manager) rebalance(ctx context.Context, tx *txn, g *group) {
	if g.balancing {
		return
	}
	g.balancing = true
	defer func() { g.balancing = false }()

	stops, takes := m.live(g)
	if len(stops) == 0 || len(takes) == 0 {
		return
	}
	diff := remaining(stops).Sub(remaining(takes))
	switch {
	case diff.IsPositive():
		m.shrink(ctx, tx, g, stops, diff)
	case diff.IsNegative():
		m.shrink(ctx, tx, g, takes, diff.Neg())
	}
}

// shrink снимает amount с ног, начиная с последней добавленной; опустевшая нога отменяется.
func (m *Manager) shrink(ctx context.Context, tx *txn, g *group, legs []*tracked, amount decimal.Decimal) {
	for i := len(legs) - 1; i >= 0 && amount.IsPositive(); i-- {
		leg := legs[i]
		rem := leg.order.RemainingAmount
		var err error
		if !rem.GreaterThan(amount) {
			amount = amount.Sub(rem)
			err = m.cancel(ctx, tx, leg)
		} else {
			target := leg.order.OriginAmount.Sub(amount)
			amount = decimal.Zero
			err = m.edit(ctx, tx, leg, models.OrderEdit{Amount: &target})
		}
		if err != nil {
			m.log.Warn("group balancing failed",
				zap.String("order_id", leg.order.OrderID),
				zap.String("group_id", g.id),
				zap.Error(err))
		}
	}
}
