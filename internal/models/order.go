package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "bid":
		return SideBuy
	case "sell", "short", "ask":
		return SideSell
	}
	return ""
}

type OrderType string

const (
	OrderMarket            OrderType = "market"
	OrderLimit             OrderType = "limit"
	OrderStopLoss          OrderType = "stop_loss"
	OrderStopLimit         OrderType = "stop_limit"
	OrderTakeProfit        OrderType = "take_profit"
	OrderTakeProfitLimit   OrderType = "take_profit_limit"
	OrderTrailingStop      OrderType = "trailing_stop"
	OrderTrailingStopLimit OrderType = "trailing_stop_limit"
	OrderUnsupported       OrderType = "unsupported"
)

func ParseOrderType(s string) OrderType {
	switch t := OrderType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); t {
	case OrderMarket, OrderLimit, OrderStopLoss, OrderStopLimit, OrderTakeProfit,
		OrderTakeProfitLimit, OrderTrailingStop, OrderTrailingStopLimit:
		return t
	case "stop", "stop_market":
		return OrderStopLoss
	}
	return OrderUnsupported
}

// IsStop: ордера защитной стороны (stop-loss и трейлинги).
func (t OrderType) IsStop() bool {
	switch t {
	case OrderStopLoss, OrderStopLimit, OrderTrailingStop, OrderTrailingStopLimit:
		return true
	}
	return false
}

// IsTakeProfit: лимитные и тейк-профит ордера, закрывающие позицию в прибыль.
func (t OrderType) IsTakeProfit() bool {
	switch t {
	case OrderLimit, OrderTakeProfit, OrderTakeProfitLimit:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusPendingCreation OrderStatus = "pending_creation"
	StatusPendingCancel   OrderStatus = "pending_cancel"
	StatusExpired         OrderStatus = "expired"
	StatusRejected        OrderStatus = "rejected"
	StatusClosed          OrderStatus = "closed"
)

func ParseOrderStatus(s string) OrderStatus {
	switch st := OrderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOpen, StatusFilled, StatusPartiallyFilled, StatusCanceled, StatusPendingCreation,
		StatusPendingCancel, StatusExpired, StatusRejected, StatusClosed:
		return st
	case "new", "live":
		return StatusOpen
	case "cancelled", "mmp_canceled":
		return StatusCanceled
	case "partially-filled", "partial":
		return StatusPartiallyFilled
	}
	return ""
}

// Terminal: дальше статус не меняется.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected, StatusClosed:
		return true
	}
	return false
}

type Fee struct {
	Cost           decimal.Decimal
	Currency       string
	OriginalCost   decimal.Decimal
	IsFromExchange bool
}

// ActiveTrigger: ордер держится локально, пока цена не пересечёт Price.
type ActiveTrigger struct {
	Price float64
	Above bool
	// FallbackType: тип ордера, которым ордер уходит на биржу по истечении active swap таймаута.
	FallbackType OrderType
}

// Crossed сообщает, сработал ли триггер на цене price.
func (t ActiveTrigger) Crossed(price float64) bool {
	if t.Above {
		return price >= t.Price
	}
	return price <= t.Price
}

type TrailingStep struct {
	// TriggerPrice: при достижении цены стоп переносится на StopPrice.
	TriggerPrice float64
	StopPrice    float64
}

type TrailingProfile struct {
	Steps []TrailingStep
}

type ChainedCancelPolicy string

const (
	CancelPolicyNone ChainedCancelPolicy = ""
	// CancelPolicyOnParentCancel: ордер отменяется вместе с родителем.
	CancelPolicyOnParentCancel ChainedCancelPolicy = "chained_order_filling_price_order_cancel_policy"
)

type Order struct {
	OrderID             string
	ExchangeOrderID     string
	SharedSignalOrderID string

	Symbol Symbol
	Side   Side
	Type   OrderType
	Status OrderStatus

	OriginAmount     decimal.Decimal
	FilledAmount     decimal.Decimal
	RemainingAmount  decimal.Decimal
	OriginPrice      decimal.Decimal
	StopPrice        decimal.Decimal
	AverageFillPrice decimal.Decimal

	ReduceOnly bool
	PostOnly   bool
	IsActive   bool
	Tag        string

	GroupID            string
	ChainedOrders      []Order
	TriggeringOrderID  string
	AssociatedOrderIDs []string
	BundledWithParent  bool

	ActiveTrigger   *ActiveTrigger
	TrailingProfile *TrailingProfile

	Fee *Fee

	UpdateWithTriggeringOrderFees bool
	CancelPolicy                  ChainedCancelPolicy

	Timestamp float64
}

// SyncRemaining восстанавливает инвариант filled + remaining == origin.
func (o *Order) SyncRemaining() {
	if o.FilledAmount.GreaterThan(o.OriginAmount) {
		o.FilledAmount = o.OriginAmount
	}
	o.RemainingAmount = o.OriginAmount.Sub(o.FilledAmount)
}

func (o Order) AmountsConsistent() bool {
	return o.FilledAmount.Add(o.RemainingAmount).Equal(o.OriginAmount)
}

func (o Order) IsChained() bool { return o.TriggeringOrderID != "" }

func (o Order) Record() Record {
	r := Record{
		KeyNormalized:    true,
		KeyID:            o.ExchangeOrderID,
		KeyClientOrderID: o.OrderID,
		KeySymbol:        string(o.Symbol),
		KeySide:          string(o.Side),
		KeyType:          string(o.Type),
		KeyStatus:        string(o.Status),
		KeyPrice:         o.OriginPrice.String(),
		KeyStopPrice:     o.StopPrice.String(),
		KeyAmount:        o.OriginAmount.String(),
		KeyFilled:        o.FilledAmount.String(),
		KeyRemaining:     o.RemainingAmount.String(),
		KeyAverage:       o.AverageFillPrice.String(),
		KeyReduceOnly:    o.ReduceOnly,
		KeyPostOnly:      o.PostOnly,
		KeyTag:           o.Tag,
		KeyTimestamp:     o.Timestamp,
	}
	if o.Fee != nil {
		r[KeyFee] = Record{
			KeyFeeCost:         o.Fee.Cost.String(),
			KeyFeeCurrency:     o.Fee.Currency,
			KeyFeeOriginalCost: o.Fee.OriginalCost.String(),
			KeyFeeIsFromEx:     o.Fee.IsFromExchange,
		}
	}
	return r
}
