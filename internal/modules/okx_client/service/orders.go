package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/helper"
	"exchange_core/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	pathOrder       = "/api/v5/trade/order"
	pathAmendOrder  = "/api/v5/trade/amend-order"
	pathCancelOrder = "/api/v5/trade/cancel-order"
	pathAlgoOrder   = "/api/v5/trade/order-algo"
	pathAmendAlgo   = "/api/v5/trade/amend-algos"
	pathCancelAlgos = "/api/v5/trade/cancel-algos"
)

// isAlgo: стопы и тейк-профиты живут в алгоритмических ордерах OKX.
func isAlgo(t models.OrderType) bool {
	return t != models.OrderMarket && t != models.OrderLimit
}

// clientID: OKX принимает clOrdId из букв и цифр длиной до 32 символов.
func clientID(orderID string) string {
	id := strings.ReplaceAll(orderID, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

func (c *Client) contract(symbol models.Symbol) (models.Contract, bool) {
	if c.contracts == nil {
		return models.Contract{}, false
	}
	return c.contracts.Contract(symbol)
}

// size переводит количество в базовой валюте в sz OKX: контракты для деривативов, округление вниз до лота.
func (c *Client) size(symbol models.Symbol, amount decimal.Decimal) (string, error) {
	sz := amount
	if ct, ok := c.contract(symbol); ok {
		if symbol.IsFuture() && ct.ContractSize > 0 {
			sz = sz.Div(decimal.NewFromFloat(ct.ContractSize))
		}
		sz = helper.RoundDownToTick(sz, ct.LotSize)
		if ct.MinSize > 0 && sz.LessThan(decimal.NewFromFloat(ct.MinSize)) {
			return "", errors.Wrapf(models.ErrInvalidOrder, "%s: size %s below minimum %v", symbol, sz, ct.MinSize)
		}
	}
	if !sz.IsPositive() {
		return "", errors.Wrapf(models.ErrInvalidOrder, "%s: size %s after rounding", symbol, sz)
	}
	return sz.String(), nil
}

// price округляет до шага цены в сторону, не ухудшающую исполнение.
func (c *Client) price(symbol models.Symbol, side models.Side, px decimal.Decimal) string {
	if ct, ok := c.contract(symbol); ok {
		if side == models.SideBuy {
			px = helper.RoundDownToTick(px, ct.TickSize)
		} else {
			px = helper.RoundUpToTick(px, ct.TickSize)
		}
	}
	return px.String()
}

func (c *Client) tradeMode(symbol models.Symbol) string {
	if !symbol.IsFuture() {
		return "cash"
	}
	return c.tdMode
}

// posSide нужен только в режиме long/short.
func (c *Client) posSide(order models.Order) string {
	ct, ok := c.contract(order.Symbol)
	if !ok || ct.PositionMode != models.PositionHedge {
		return ""
	}
	closing := order.ReduceOnly || isAlgo(order.Type)
	if (order.Side == models.SideSell) == closing {
		return "long"
	}
	return "short"
}

func (c *Client) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	instID := okx.InstID(order.Symbol)
	sz, err := c.size(order.Symbol, order.OriginAmount)
	if err != nil {
		return models.Order{}, err
	}
	body := map[string]any{
		"instId":  instID,
		"tdMode":  c.tradeMode(order.Symbol),
		"side":    string(order.Side),
		"sz":      sz,
		"clOrdId": clientID(order.OrderID),
	}
	if ps := c.posSide(order); ps != "" {
		body["posSide"] = ps
	}
	if order.ReduceOnly && order.Symbol.IsFuture() {
		body["reduceOnly"] = true
	}
	if order.Tag != "" {
		body["tag"] = order.Tag
	}

	path := pathOrder
	switch order.Type {
	case models.OrderMarket:
		body["ordType"] = "market"
		if !order.Symbol.IsFuture() {
			body["tgtCcy"] = "base_ccy"
		}
	case models.OrderLimit:
		body["ordType"] = "limit"
		if order.PostOnly {
			body["ordType"] = "post_only"
		}
		body["px"] = c.price(order.Symbol, order.Side, order.OriginPrice)
	case models.OrderStopLoss, models.OrderStopLimit, models.OrderTakeProfit, models.OrderTakeProfitLimit:
		path = pathAlgoOrder
		delete(body, "clOrdId")
		body["algoClOrdId"] = clientID(order.OrderID)
		body["ordType"] = "conditional"
		trigger := order.StopPrice
		if trigger.IsZero() {
			trigger = order.OriginPrice
		}
		ordPx := "-1"
		if order.Type == models.OrderStopLimit || order.Type == models.OrderTakeProfitLimit {
			ordPx = c.price(order.Symbol, order.Side, order.OriginPrice)
		}
		prefix := "sl"
		if order.Type == models.OrderTakeProfit || order.Type == models.OrderTakeProfitLimit {
			prefix = "tp"
		}
		body[prefix+"TriggerPx"] = c.price(order.Symbol, order.Side, trigger)
		body[prefix+"OrdPx"] = ordPx
		body[prefix+"TriggerPxType"] = "last"
	default:
		return models.Order{}, errors.Wrapf(models.ErrNotSupported, "okx: order type %s", order.Type)
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, body, true)
	if err != nil {
		return models.Order{}, err
	}
	it, err := decodeItems(data, "create order")
	if err != nil {
		return models.Order{}, err
	}
	id := it.OrdID
	if path == pathAlgoOrder {
		id = it.AlgoID
	}
	c.log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("exchange_order_id", id),
		zap.String("inst_id", instID),
		zap.String("type", string(order.Type)),
		zap.String("sz", sz))
	return models.Order{
		OrderID:         order.OrderID,
		ExchangeOrderID: id,
		Symbol:          order.Symbol,
		Status:          models.StatusOpen,
	}, nil
}

// CancelOrder: OKX подтверждает приём отмены, итоговое состояние приходит при обновлении ордера.
func (c *Client) CancelOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if order.ExchangeOrderID == "" {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "cancel %s: no exchange id", order.OrderID)
	}
	instID := okx.InstID(order.Symbol)

	var (
		data []byte
		err  error
	)
	if isAlgo(order.Type) {
		body := []map[string]string{{"instId": instID, "algoId": order.ExchangeOrderID}}
		data, err = c.do(ctx, http.MethodPost, pathCancelAlgos, nil, body, true)
	} else {
		body := map[string]string{"instId": instID, "ordId": order.ExchangeOrderID}
		data, err = c.do(ctx, http.MethodPost, pathCancelOrder, nil, body, true)
	}
	if err != nil {
		return models.Order{}, err
	}
	if _, err := decodeItems(data, "cancel order"); err != nil {
		return models.Order{}, err
	}
	return models.Order{
		OrderID:         order.OrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol,
		Status:          models.StatusPendingCancel,
	}, nil
}

func (c *Client) EditOrder(ctx context.Context, order models.Order, edit models.OrderEdit) (models.Order, error) {
	if order.ExchangeOrderID == "" {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "edit %s: no exchange id", order.OrderID)
	}
	instID := okx.InstID(order.Symbol)
	body := map[string]any{"instId": instID}
	if edit.Amount != nil {
		sz, err := c.size(order.Symbol, *edit.Amount)
		if err != nil {
			return models.Order{}, err
		}
		body["newSz"] = sz
	}

	path := pathAmendOrder
	if isAlgo(order.Type) {
		path = pathAmendAlgo
		body["algoId"] = order.ExchangeOrderID
		prefix := "newSl"
		if order.Type == models.OrderTakeProfit || order.Type == models.OrderTakeProfitLimit {
			prefix = "newTp"
		}
		if edit.StopPrice != nil {
			body[prefix+"TriggerPx"] = c.price(order.Symbol, order.Side, *edit.StopPrice)
		}
		if edit.Price != nil {
			body[prefix+"OrdPx"] = c.price(order.Symbol, order.Side, *edit.Price)
		}
	} else {
		body["ordId"] = order.ExchangeOrderID
		if edit.Price != nil {
			body["newPx"] = c.price(order.Symbol, order.Side, *edit.Price)
		}
		if edit.StopPrice != nil {
			return models.Order{}, errors.Wrapf(models.ErrInvalidOrder, "edit %s: %s order has no stop price", order.OrderID, order.Type)
		}
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, body, true)
	if err != nil {
		return models.Order{}, err
	}
	if _, err := decodeItems(data, "edit order"); err != nil {
		return models.Order{}, err
	}
	return models.Order{
		OrderID:         order.OrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol,
		Status:          models.StatusOpen,
	}, nil
}

func (c *Client) GetOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if order.ExchangeOrderID == "" {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "get %s: no exchange id", order.OrderID)
	}
	q := url.Values{}
	path := pathOrder
	if isAlgo(order.Type) {
		path = pathAlgoOrder
		q.Set("algoId", order.ExchangeOrderID)
	} else {
		q.Set("instId", okx.InstID(order.Symbol))
		q.Set("ordId", order.ExchangeOrderID)
	}
	data, err := c.do(ctx, http.MethodGet, path, q, nil, true)
	if err != nil {
		return models.Order{}, err
	}
	objs, err := decodeObjects(data, "get order")
	if err != nil {
		return models.Order{}, err
	}
	if len(objs) == 0 {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "get %s", order.ExchangeOrderID)
	}
	rec := okx.OrderRecord(objs[0])
	if isAlgo(order.Type) {
		rec[models.KeyID] = order.ExchangeOrderID
	}
	got := c.norm.Order(rec)
	got.OrderID = order.OrderID
	return got, nil
}
