// Package signals собирает решения стратегии за один проход в пакет торговых сигналов.
package signals

import (
	"sort"

	"exchange_core/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrDependencyCycle = errors.New("signal dependency cycle")
)

type entry struct {
	signal models.OrderSignal
	deps   []models.Dependency
	seq    int
}

func (e *entry) orderID() string { return e.signal.Order.OrderID }

// Builder не потокобезопасен: им пользуется одна стратегия в рамках одного прохода.
type Builder struct {
	exchange string
	entries  []*entry
	seq      int
}

func NewBuilder(exchange string) *Builder {
	return &Builder{exchange: exchange}
}

func (b *Builder) find(orderID string, action models.SignalAction) *entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if e := b.entries[i]; e.orderID() == orderID && e.signal.Action == action {
			return e
		}
	}
	return nil
}

func (b *Builder) forOrder(orderID string) []*entry {
	var out []*entry
	for _, e := range b.entries {
		if e.orderID() == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (b *Builder) append(sig models.OrderSignal, deps []models.Dependency) *entry {
	b.seq++
	e := &entry{signal: sig, deps: append([]models.Dependency(nil), deps...), seq: b.seq}
	b.entries = append(b.entries, e)
	return e
}

func (b *Builder) remove(target *entry) {
	for i, e := range b.entries {
		if e == target {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return
		}
	}
}

// AddCreated добавляет создание ордера. Нужен хотя бы один из targetAmount, targetPosition.
// Повторный вызов для того же OrderID обновляет уже добавленный сигнал.
func (b *Builder) AddCreated(order models.Order, targetAmount, targetPosition string, deps ...models.Dependency) error {
	if order.OrderID == "" {
		return errors.Wrap(ErrInvalidSignal, "create: order id required")
	}
	if targetAmount == "" && targetPosition == "" {
		return errors.Wrapf(ErrInvalidSignal, "create %s: target amount or target position required", order.OrderID)
	}
	if e := b.find(order.OrderID, models.ActionCreate); e != nil {
		e.signal.Order = order
		e.signal.TargetAmount = targetAmount
		e.signal.TargetPosition = targetPosition
		e.deps = mergeDeps(e.deps, deps)
		return nil
	}
	b.append(models.OrderSignal{
		Action:         models.ActionCreate,
		Order:          order,
		TargetAmount:   targetAmount,
		TargetPosition: targetPosition,
	}, deps)
	return nil
}

// AddEdited добавляет изменение ордера. Правка ещё не опубликованного создания вносится прямо в него,
// повторные правки сливаются.
func (b *Builder) AddEdited(order models.Order, edit models.OrderEdit, deps ...models.Dependency) error {
	if edit.Empty() {
		return errors.Wrapf(ErrInvalidSignal, "edit %s: nothing to update", order.OrderID)
	}
	if c := b.find(order.OrderID, models.ActionCreate); c != nil {
		applyEdit(&c.signal.Order, edit)
		c.deps = mergeDeps(c.deps, deps)
		return nil
	}
	if b.find(order.OrderID, models.ActionCancel) != nil {
		return errors.Wrapf(ErrInvalidSignal, "edit %s: order is being cancelled", order.OrderID)
	}
	if e := b.find(order.OrderID, models.ActionEdit); e != nil {
		e.signal.Edit = e.signal.Edit.Merge(edit)
		e.signal.Order = order
		e.deps = mergeDeps(e.deps, deps)
		return nil
	}
	b.append(models.OrderSignal{Action: models.ActionEdit, Order: order, Edit: edit}, deps)
	return nil
}

// AddCancelled: ордер, создаваемый этим же пакетом, убирается из него целиком со всеми своими сигналами;
// правки и перемещения в группу уже существующего ордера заменяются одной отменой.
func (b *Builder) AddCancelled(order models.Order, deps ...models.Dependency) error {
	if b.find(order.OrderID, models.ActionCreate) != nil {
		b.dropCreated(order.OrderID)
		return nil
	}
	existing := b.forOrder(order.OrderID)
	for _, e := range existing {
		if e.signal.Action == models.ActionCancel {
			e.deps = mergeDeps(e.deps, deps)
			return nil
		}
	}
	var kept *entry
	for _, e := range existing {
		switch e.signal.Action {
		case models.ActionEdit, models.ActionAddToGroup:
			if kept == nil {
				kept = e
				continue
			}
			b.remove(e)
		}
	}
	if kept != nil {
		kept.signal = models.OrderSignal{Action: models.ActionCancel, Order: order}
		kept.deps = mergeDeps(kept.deps, deps)
		return nil
	}
	b.append(models.OrderSignal{Action: models.ActionCancel, Order: order}, deps)
	return nil
}

// dropCreated убирает из пакета все сигналы ордера, который так и не был создан, вместе с
// созданиями связанных с ним ордеров.
func (b *Builder) dropCreated(orderID string) {
	for _, e := range b.forOrder(orderID) {
		b.remove(e)
	}
	for _, e := range append([]*entry(nil), b.entries...) {
		if e.signal.Action == models.ActionCreate && e.signal.Order.TriggeringOrderID == orderID {
			b.dropCreated(e.orderID())
		}
	}
}

// AddOrderToGroup фиксирует смену группы ордера (пустой GroupID выводит ордер из группы).
func (b *Builder) AddOrderToGroup(order models.Order, policy models.GroupPolicy, deps ...models.Dependency) error {
	if order.OrderID == "" {
		return errors.Wrap(ErrInvalidSignal, "add to group: order id required")
	}
	if e := b.find(order.OrderID, models.ActionAddToGroup); e != nil {
		e.signal.Order = order
		e.signal.GroupID = order.GroupID
		e.signal.GroupPolicy = policy
		e.deps = mergeDeps(e.deps, deps)
		return nil
	}
	b.append(models.OrderSignal{
		Action:      models.ActionAddToGroup,
		Order:       order,
		GroupID:     order.GroupID,
		GroupPolicy: policy,
	}, deps)
	return nil
}

// Len: количество сигналов верхнего уровня до упаковки.
func (b *Builder) Len() int { return len(b.entries) }

// Reset очищает построитель для следующего прохода.
func (b *Builder) Reset() {
	b.entries = nil
	b.seq = 0
}

// Build упаковывает зависимые создания в их корневых родителей и сортирует сигналы.
// Порядок добавления родителя и дочернего ордера не важен.
func (b *Builder) Build() *Bundle {
	creates := make(map[string]*entry)
	for _, e := range b.entries {
		if e.signal.Action == models.ActionCreate {
			creates[e.orderID()] = e
		}
	}

	// root: самый верхний ордер цепочки TriggeringOrderID среди созданий пакета; цикл оставляет ордер корнем
	root := func(e *entry) *entry {
		seen := map[*entry]bool{e: true}
		cur := e
		for {
			parent, ok := creates[cur.signal.Order.TriggeringOrderID]
			if !ok {
				return cur
			}
			if seen[parent] {
				return e
			}
			seen[parent] = true
			cur = parent
		}
	}

	holders := make(map[string]*entry)
	for _, e := range b.entries {
		if e.signal.Action != models.ActionCreate || root(e) != e {
			continue
		}
		if g := e.signal.Order.GroupID; g != "" && holders[g] == nil {
			holders[g] = e
		}
	}
	owner := func(e *entry) *entry {
		r := root(e)
		if h := holders[r.signal.Order.GroupID]; r.signal.Order.GroupID != "" && h != nil {
			return h
		}
		return r
	}

	var top []*entry
	packed := make(map[*entry]*entry)
	for _, e := range b.entries {
		if e.signal.Action != models.ActionCreate {
			top = append(top, e)
			continue
		}
		if owner(e) != e {
			continue
		}
		p := &entry{signal: e.signal, deps: e.deps, seq: e.seq}
		p.signal.AdditionalOrders = nil
		packed[e] = p
		top = append(top, p)
	}
	for _, e := range b.entries {
		if e.signal.Action != models.ActionCreate {
			continue
		}
		if o := owner(e); o != e {
			absorb(packed[o], e)
		}
	}

	sort.SliceStable(top, func(i, j int) bool {
		return actionRank(top[i].signal.Action) < actionRank(top[j].signal.Action)
	})

	out := &Bundle{Exchange: b.exchange, Signals: make([]models.Signal, 0, len(top))}
	for _, e := range top {
		out.Signals = append(out.Signals, models.Signal{
			Topic:        models.TopicOrders,
			Content:      e.signal,
			Dependencies: append([]models.Dependency(nil), e.deps...),
		})
	}
	return out
}

func absorb(parent, child *entry) {
	add := child.signal
	add.AdditionalOrders = nil
	parent.signal.AdditionalOrders = append(parent.signal.AdditionalOrders, add)
	parent.deps = mergeDeps(parent.deps, child.deps)
}

func actionRank(a models.SignalAction) int {
	switch a {
	case models.ActionCancel:
		return 0
	case models.ActionCreate:
		return 1
	case models.ActionEdit:
		return 2
	case models.ActionAddToGroup:
		return 3
	}
	return 4
}

func applyEdit(o *models.Order, edit models.OrderEdit) {
	if edit.Price != nil {
		o.OriginPrice = *edit.Price
	}
	if edit.StopPrice != nil {
		o.StopPrice = *edit.StopPrice
	}
	if edit.Amount != nil {
		o.OriginAmount = *edit.Amount
		o.SyncRemaining()
	}
}

func mergeDeps(have, add []models.Dependency) []models.Dependency {
	for _, d := range add {
		dup := false
		for _, h := range have {
			if h == d {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, d)
		}
	}
	return have
}
