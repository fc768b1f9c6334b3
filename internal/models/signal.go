package models

import "github.com/shopspring/decimal"

type Topic string

const (
	TopicOrders    Topic = "orders"
	TopicPositions Topic = "positions"
)

type SignalAction string

const (
	ActionCreate     SignalAction = "create"
	ActionEdit       SignalAction = "edit"
	ActionCancel     SignalAction = "cancel"
	ActionAddToGroup SignalAction = "add_to_group"
)

type GroupPolicy string

const (
	GroupOneCancelsOther GroupPolicy = "one_cancels_the_other"
	GroupBalancedTPSL    GroupPolicy = "balanced_take_profit_and_stop"
)

// Dependency ссылается на сигнал, который должен быть опубликован раньше.
type Dependency struct {
	OrderID        string
	PositionSymbol Symbol
}

type OrderEdit struct {
	Price     *decimal.Decimal
	StopPrice *decimal.Decimal
	Amount    *decimal.Decimal
}

func (e OrderEdit) Empty() bool {
	return e.Price == nil && e.StopPrice == nil && e.Amount == nil
}

// Merge накладывает более свежие изменения поверх текущих.
func (e OrderEdit) Merge(next OrderEdit) OrderEdit {
	if next.Price != nil {
		e.Price = next.Price
	}
	if next.StopPrice != nil {
		e.StopPrice = next.StopPrice
	}
	if next.Amount != nil {
		e.Amount = next.Amount
	}
	return e
}

type OrderSignal struct {
	Action         SignalAction
	Order          Order
	TargetAmount   string
	TargetPosition string
	Edit           OrderEdit
	GroupID        string
	GroupPolicy    GroupPolicy

	AdditionalOrders []OrderSignal
}

type Signal struct {
	Topic        Topic
	Content      OrderSignal
	Dependencies []Dependency
}
