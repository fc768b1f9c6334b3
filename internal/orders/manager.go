package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exchange: REST-операции над ордерами. Реализуется клиентом конкретной биржи.
type Exchange interface {
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)
	CancelOrder(ctx context.Context, order models.Order) (models.Order, error)
	EditOrder(ctx context.Context, order models.Order, edit models.OrderEdit) (models.Order, error)
	GetOrder(ctx context.Context, order models.Order) (models.Order, error)
}

type Config struct {
	RefreshInterval   time.Duration
	CancelTimeout     time.Duration
	ActiveSwapTimeout time.Duration
	// MaxRefreshFailures: после стольких неудачных обновлений подряд ордер считается недоступным.
	MaxRefreshFailures int
	// TerminalRetention: сколько терминальный ордер остаётся в памяти для поздних обновлений.
	TerminalRetention time.Duration
	Backtesting       bool
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval:    10 * time.Second,
		CancelTimeout:      30 * time.Second,
		ActiveSwapTimeout:  5 * time.Minute,
		MaxRefreshFailures: 3,
		TerminalRetention:  10 * time.Minute,
	}
}

type tracked struct {
	order    models.Order
	state    State
	pending  bool
	seq      uint64
	children []string

	failures   int
	cancelAt   time.Time
	inactiveAt time.Time
	doneAt     time.Time
	// filledSeen: исполненный объём, по которому уже отработала политика группы.
	filledSeen decimal.Decimal
}

func (t *tracked) snapshot() models.Order {
	o := t.order
	o.ChainedOrders = append([]models.Order(nil), t.order.ChainedOrders...)
	o.AssociatedOrderIDs = append([]string(nil), t.order.AssociatedOrderIDs...)
	return o
}

// txn копит события, которые публикуются после снятия блокировки.
type txn struct {
	events []models.Order
}

// Manager владеет состоянием всех ордеров одной биржи и единолично его меняет.
type Manager struct {
	cfg      Config
	exchange Exchange
	channels *channels.Channels
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	orders map[string]*tracked
	groups map[string]*group
	seq    uint64

	// outbox: события в порядке изменений; публикует тот, кто первым взялся за очередь
	outMu    sync.Mutex
	outbox   []models.Order
	flushing bool
}

func NewManager(cfg Config, exch Exchange, chans *channels.Channels, log *zap.Logger) *Manager {
	if cfg.MaxRefreshFailures <= 0 {
		cfg.MaxRefreshFailures = 3
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = 10 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		exchange: exch,
		channels: chans,
		log:      log.Named("orders"),
		now:      time.Now,
		orders:   make(map[string]*tracked),
		groups:   make(map[string]*group),
	}
}

// SetClock подменяет источник времени (симуляция).
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, fn func(tx *txn) error) error {
	tx := &txn{}
	m.mu.Lock()
	err := fn(tx)
	m.outMu.Lock()
	m.outbox = append(m.outbox, tx.events...)
	m.outMu.Unlock()
	m.mu.Unlock()
	m.flush(ctx)
	return err
}

// flush публикует накопленные события в ORDERS. Вызов из обработчика ORDERS (или во время чужой публикации)
// только дополняет очередь, её дочитает текущий публикатор.
func (m *Manager) flush(ctx context.Context) {
	m.outMu.Lock()
	if m.flushing || m.channels == nil {
		if m.channels == nil {
			m.outbox = nil
		}
		m.outMu.Unlock()
		return
	}
	m.flushing = true
	ch := m.channels.Get(channels.Orders)
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.outMu.Unlock()
		for _, o := range batch {
			ev := channels.Event{
				Cryptocurrency: o.Symbol.Base(),
				Symbol:         o.Symbol,
				Payload:        channels.OrderUpdate{Symbol: o.Symbol, Order: o},
			}
			if err := ch.Push(ctx, ev); err != nil && !errors.Is(err, channels.ErrChannelClosed) {
				m.log.Warn("orders push failed", zap.String("order_id", o.OrderID), zap.Error(err))
			}
		}
		m.outMu.Lock()
	}
	m.flushing = false
	m.outMu.Unlock()
}

// Create регистрирует ордер и, если он не ждёт триггера или родителя, отправляет его на биржу.
// Связанные ордера регистрируются вместе с родителем; помеченные BundledWithParent уходят на биржу сразу после него.
func (m *Manager) Create(ctx context.Context, order models.Order) (models.Order, error) {
	var out models.Order
	err := m.run(ctx, func(tx *txn) error {
		t, err := m.register(order)
		if err != nil {
			return err
		}
		if t.state == StatePendingCreation {
			if err := m.submitWithBundled(ctx, tx, t); err != nil {
				out = t.snapshot()
				return err
			}
		}
		out = t.snapshot()
		return nil
	})
	return out, err
}

func (m *Manager) register(order models.Order) (*tracked, error) {
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	if prev, ok := m.orders[order.OrderID]; ok {
		if prev.order.Status != models.StatusRejected {
			return nil, errors.Wrapf(models.ErrInvalidOrder, "order %s already exists", order.OrderID)
		}
		m.drop(prev)
	}
	if !order.OriginAmount.IsPositive() {
		return nil, errors.Wrapf(models.ErrInvalidOrder, "order %s: amount must be positive", order.OrderID)
	}
	for _, child := range order.ChainedOrders {
		if !child.OriginAmount.IsPositive() {
			return nil, errors.Wrapf(models.ErrInvalidOrder, "order %s: chained order amount must be positive", order.OrderID)
		}
	}
	var parent *tracked
	if order.IsChained() {
		p, ok := m.orders[order.TriggeringOrderID]
		if !ok {
			return nil, errors.Wrapf(models.ErrInvalidOrder, "order %s: triggering order %s unknown",
				order.OrderID, order.TriggeringOrderID)
		}
		if p.state.Terminal() {
			return nil, errors.Wrapf(models.ErrInvalidState, "order %s: triggering order %s is %s",
				order.OrderID, order.TriggeringOrderID, p.state)
		}
		parent = p
	}
	order.SyncRemaining()
	if order.ActiveTrigger != nil {
		trig := *order.ActiveTrigger
		order.ActiveTrigger = &trig
	}
	if order.TrailingProfile != nil {
		order.TrailingProfile = &models.TrailingProfile{
			Steps: append([]models.TrailingStep(nil), order.TrailingProfile.Steps...),
		}
	}
	order.ChainedOrders = append([]models.Order(nil), order.ChainedOrders...)

	t := m.track(order)
	switch {
	case order.IsChained():
		t.state = StatePendingCreationChained
		parent.children = append(parent.children, order.OrderID)
	case order.ActiveTrigger != nil && !order.IsActive:
		t.state = StateInactive
		t.inactiveAt = m.now()
	default:
		t.state = StatePendingCreation
	}
	t.order.Status = models.StatusPendingCreation

	if order.GroupID != "" {
		m.joinGroup(t, order.GroupID, "")
	}

	for i := range t.order.ChainedOrders {
		child := t.order.ChainedOrders[i]
		if child.OrderID == "" {
			child.OrderID = uuid.NewString()
		}
		child.TriggeringOrderID = t.order.OrderID
		child.SyncRemaining()
		child.Status = models.StatusPendingCreation
		t.order.ChainedOrders[i] = child

		c := m.track(child)
		c.state = StatePendingCreationChained
		if child.GroupID != "" {
			m.joinGroup(c, child.GroupID, "")
		}
		t.children = append(t.children, child.OrderID)
	}
	return t, nil
}

// drop убирает отклонённый биржей ордер вместе с его не созданными дочерними, чтобы его можно было отправить заново.
func (m *Manager) drop(t *tracked) {
	for _, id := range t.children {
		if c, ok := m.orders[id]; ok && c.order.ExchangeOrderID == "" {
			m.leaveGroup(c)
			delete(m.orders, id)
		}
	}
	m.leaveGroup(t)
	delete(m.orders, t.order.OrderID)
}

func (m *Manager) track(order models.Order) *tracked {
	m.seq++
	t := &tracked{order: order, seq: m.seq}
	m.orders[order.OrderID] = t
	return t
}

// submit отправляет ордер на биржу. Ошибка создания переводит ордер в CANCELED со статусом rejected.
func (m *Manager) submit(ctx context.Context, tx *txn, t *tracked) error {
	t.pending = true
	created, err := m.exchange.CreateOrder(ctx, t.snapshot())
	t.pending = false
	if err != nil {
		lvl := m.log.Error
		if errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrInvalidOrder) {
			lvl = m.log.Warn
		}
		lvl("order creation failed",
			zap.String("order_id", t.order.OrderID),
			zap.String("symbol", string(t.order.Symbol)),
			zap.Error(err))
		t.order.Status = models.StatusRejected
		m.advance(ctx, tx, t, StateCanceled)
		return errors.Wrapf(err, "create order %s", t.order.OrderID)
	}
	m.merge(t, created)
	to, ok := stateOf(created.Status)
	if !ok || to.rank() < StateOpen.rank() {
		to = StateOpen
	}
	m.advance(ctx, tx, t, to)
	return nil
}

// Cancel отменяет ордер. Не отправленный на биржу ордер отменяется локально.
func (m *Manager) Cancel(ctx context.Context, orderID string) (models.Order, error) {
	var out models.Order
	err := m.run(ctx, func(tx *txn) error {
		t, ok := m.orders[orderID]
		if !ok {
			return errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
		}
		err := m.cancel(ctx, tx, t)
		out = t.snapshot()
		return err
	})
	return out, err
}

func (m *Manager) cancel(ctx context.Context, tx *txn, t *tracked) error {
	if t.state.Terminal() {
		return errors.Wrapf(models.ErrInvalidState, "order %s is %s", t.order.OrderID, t.state)
	}
	if t.state == StateCanceling {
		return nil
	}
	if !t.state.Submitted() {
		t.order.Status = models.StatusCanceled
		m.advance(ctx, tx, t, StateCanceled)
		return nil
	}

	m.transition(tx, t, StateCanceling, true)
	t.cancelAt = m.now()
	res, err := m.exchange.CancelOrder(ctx, t.snapshot())
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			// на бирже ордера уже нет, итог узнаем при обновлении
			m.log.Info("order to cancel not found on exchange", zap.String("order_id", t.order.OrderID))
			return nil
		}
		m.log.Warn("order cancel failed", zap.String("order_id", t.order.OrderID), zap.Error(err))
		return errors.Wrapf(err, "cancel order %s", t.order.OrderID)
	}
	m.merge(t, res)
	if to, ok := stateOf(res.Status); ok && to.Terminal() {
		m.advance(ctx, tx, t, to)
	}
	return nil
}

// Edit меняет цену, стоп или количество. Не отправленный ордер правится локально.
func (m *Manager) Edit(ctx context.Context, orderID string, edit models.OrderEdit) (models.Order, error) {
	var out models.Order
	err := m.run(ctx, func(tx *txn) error {
		t, ok := m.orders[orderID]
		if !ok {
			return errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
		}
		err := m.edit(ctx, tx, t, edit)
		out = t.snapshot()
		return err
	})
	return out, err
}

func (m *Manager) edit(ctx context.Context, tx *txn, t *tracked, edit models.OrderEdit) error {
	if edit.Empty() {
		return errors.Wrapf(models.ErrInvalidOrder, "order %s: empty edit", t.order.OrderID)
	}
	if t.state.Terminal() || t.state == StateCanceling {
		return errors.Wrapf(models.ErrInvalidState, "order %s is %s", t.order.OrderID, t.state)
	}
	if edit.Amount != nil && !edit.Amount.GreaterThan(t.order.FilledAmount) {
		return errors.Wrapf(models.ErrInvalidOrder, "order %s: amount %s not above filled %s",
			t.order.OrderID, edit.Amount, t.order.FilledAmount)
	}
	if !t.state.Submitted() {
		applyEdit(&t.order, edit)
		return nil
	}

	t.pending = true
	res, err := m.exchange.EditOrder(ctx, t.snapshot(), edit)
	t.pending = false
	if err != nil {
		m.log.Warn("order edit failed", zap.String("order_id", t.order.OrderID), zap.Error(err))
		return errors.Wrapf(err, "edit order %s", t.order.OrderID)
	}
	applyEdit(&t.order, edit)
	m.merge(t, res)
	if to, ok := stateOf(res.Status); ok && to.rank() > t.state.rank() {
		m.advance(ctx, tx, t, to)
	} else {
		m.emit(tx, t)
	}
	return nil
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
	}
	o.SyncRemaining()
}

// AddToGroup переносит ордер в группу groupID (пустой id выводит из группы).
func (m *Manager) AddToGroup(ctx context.Context, orderID, groupID string, policy models.GroupPolicy) error {
	return m.run(ctx, func(tx *txn) error {
		t, ok := m.orders[orderID]
		if !ok {
			return errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
		}
		m.leaveGroup(t)
		if groupID != "" {
			m.joinGroup(t, groupID, policy)
		}
		return nil
	})
}

// Order возвращает копию ордера.
func (m *Manager) Order(orderID string) (models.Order, State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.orders[orderID]
	if !ok {
		return models.Order{}, 0, false
	}
	return t.snapshot(), t.state, true
}

// OpenOrders: нетерминальные ордера символа (пустой символ: все), в порядке регистрации.
func (m *Manager) OpenOrders(symbol models.Symbol) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, t := range m.sorted() {
		if t.state.Terminal() {
			continue
		}
		if symbol != "" && t.order.Symbol != symbol {
			continue
		}
		out = append(out, t.snapshot())
	}
	return out
}

// Forget убирает из памяти терминальные ордера старше TerminalRetention, не состоящие в живой группе.
func (m *Manager) Forget() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.cfg.TerminalRetention)
	n := 0
	for id, t := range m.orders {
		if t.state.Terminal() && t.doneAt.Before(cutoff) && m.groups[t.order.GroupID] == nil {
			delete(m.orders, id)
			n++
		}
	}
	return n
}

// merge переносит в локальный ордер поля из ответа биржи.
func (m *Manager) merge(t *tracked, upd models.Order) {
	o := &t.order
	if upd.ExchangeOrderID != "" {
		o.ExchangeOrderID = upd.ExchangeOrderID
	}
	if upd.OriginAmount.IsPositive() {
		o.OriginAmount = upd.OriginAmount
	}
	if upd.FilledAmount.GreaterThan(o.FilledAmount) {
		o.FilledAmount = upd.FilledAmount
	}
	if !upd.AverageFillPrice.IsZero() {
		o.AverageFillPrice = upd.AverageFillPrice
	}
	if !upd.OriginPrice.IsZero() {
		o.OriginPrice = upd.OriginPrice
	}
	if !upd.StopPrice.IsZero() {
		o.StopPrice = upd.StopPrice
	}
	if upd.Fee != nil {
		fee := *upd.Fee
		o.Fee = &fee
	}
	if upd.Timestamp > 0 {
		o.Timestamp = upd.Timestamp
	}
	if upd.Status.Terminal() {
		o.Status = upd.Status
	}
	if upd.Status == models.StatusFilled {
		o.FilledAmount = o.OriginAmount
	}
	o.SyncRemaining()
}

// transition меняет состояние и ставит событие в очередь, если состояние устоявшееся.
func (m *Manager) transition(tx *txn, t *tracked, to State, pending bool) {
	from := t.state
	t.state = to
	t.pending = pending
	if to.Terminal() && !from.Terminal() {
		t.doneAt = m.now()
	}
	if st := to.status(); st != "" && !(to == StateCanceled && t.order.Status.Terminal()) {
		t.order.Status = st
	}
	if to != StateCanceling {
		t.cancelAt = time.Time{}
	}
	m.log.Debug("order transition",
		zap.String("order_id", t.order.OrderID),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if to.settled() && !pending {
		m.emit(tx, t)
	}
}

func (m *Manager) emit(tx *txn, t *tracked) {
	tx.events = append(tx.events, t.snapshot())
}

// advance переводит ордер в состояние to и выполняет обработку терминальных состояний и политики группы.
func (m *Manager) advance(ctx context.Context, tx *txn, t *tracked, to State) {
	m.transition(tx, t, to, to == StateCanceling)
	switch to {
	case StateFilled:
		m.onFilled(ctx, tx, t)
	case StateCanceled:
		m.onCanceled(ctx, tx, t)
	}
	if g := m.groupOf(t); g != nil && g.policy == models.GroupBalancedTPSL {
		if delta := t.order.FilledAmount.Sub(t.filledSeen); delta.IsPositive() {
			m.reduceOpposite(ctx, tx, g, t, delta)
		} else if to == StateCanceled {
			m.rebalance(ctx, tx, g)
		}
	}
	t.filledSeen = t.order.FilledAmount
	m.collectGroup(t)
}

func (m *Manager) sorted() []*tracked {
	out := make([]*tracked, 0, len(m.orders))
	for _, t := range m.orders {
		out = append(out, t)
	}
	sortBySeq(out)
	return out
}

func sortBySeq(ts []*tracked) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].seq < ts[j].seq })
}
