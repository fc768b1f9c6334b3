package normalizer

import (
	"exchange_core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FixOrder восстанавливает количество, пересчитывает контракты в базовую валюту и размечает комиссию.
func (n *Normalizer) FixOrder(raw models.Record) models.Record {
	r := raw.Clone()
	already := r.Bool(models.KeyNormalized)

	if ts, ok := r.Float(models.KeyTimestamp); ok {
		r[models.KeyTimestamp] = UniformTimestamp(ts)
	}
	for _, k := range []string{
		models.KeyPrice, models.KeyStopPrice, models.KeyAmount, models.KeyFilled,
		models.KeyRemaining, models.KeyCost, models.KeyAverage,
	} {
		if !r.Has(k) {
			continue
		}
		if d, ok := r.Decimal(k); ok {
			r[k] = d
		} else {
			delete(r, k)
		}
	}

	price, hasPrice := r.Decimal(models.KeyPrice)
	if !hasPrice || price.IsZero() {
		price, hasPrice = r.Decimal(models.KeyAverage)
	}
	if !r.Has(models.KeyAmount) {
		cost, hasCost := r.Decimal(models.KeyCost)
		if hasCost && hasPrice && !price.IsZero() {
			r[models.KeyAmount] = cost.Div(price)
		} else {
			n.missing("order", models.KeyAmount, raw)
		}
	}

	filled, hasFilled := r.Decimal(models.KeyFilled)
	if models.ParseOrderType(r.String(models.KeyType)) == models.OrderMarket &&
		models.ParseSide(r.String(models.KeySide)) == models.SideBuy &&
		hasFilled && filled.IsPositive() {
		r[models.KeyAmount] = filled
	}

	if !already {
		symbol := models.Symbol(r.String(models.KeySymbol))
		if c, ok := n.contract(symbol); ok && c.ContractSize > 0 && c.ContractSize != 1 {
			size := decimal.NewFromFloat(c.ContractSize)
			for _, k := range []string{models.KeyAmount, models.KeyFilled, models.KeyRemaining} {
				if d, ok := r.Decimal(k); ok {
					r[k] = d.Mul(size)
				}
			}
		}
	}

	if fee, ok := r.Sub(models.KeyFee); ok {
		r[models.KeyFee] = fixFee(fee, already)
	}

	r[models.KeyNormalized] = true
	return r
}

// fixFee запоминает исходную стоимость комиссии и её происхождение.
func fixFee(raw models.Record, already bool) models.Record {
	fee := raw.Clone()
	cost, ok := fee.Decimal(models.KeyFeeCost)
	if !ok {
		cost = decimal.Zero
	}
	fee[models.KeyFeeCost] = cost
	if !fee.Has(models.KeyFeeOriginalCost) {
		fee[models.KeyFeeOriginalCost] = cost
	} else if d, ok := fee.Decimal(models.KeyFeeOriginalCost); ok {
		fee[models.KeyFeeOriginalCost] = d
	}
	if !already && !fee.Has(models.KeyFeeIsFromEx) {
		fee[models.KeyFeeIsFromEx] = true
	} else {
		fee[models.KeyFeeIsFromEx] = fee.Bool(models.KeyFeeIsFromEx)
	}
	return fee
}

func parseFee(r models.Record) (*models.Fee, bool) {
	sub, ok := r.Sub(models.KeyFee)
	if !ok {
		return nil, false
	}
	cost, _ := sub.Decimal(models.KeyFeeCost)
	orig, ok := sub.Decimal(models.KeyFeeOriginalCost)
	if !ok {
		orig = cost
	}
	return &models.Fee{
		Cost:           cost,
		Currency:       sub.String(models.KeyFeeCurrency),
		OriginalCost:   orig,
		IsFromExchange: sub.Bool(models.KeyFeeIsFromEx),
	}, true
}

func (n *Normalizer) ParseOrder(r models.Record) models.Order {
	dec := func(k string) decimal.Decimal {
		d, _ := r.Decimal(k)
		return d
	}
	status := models.ParseOrderStatus(r.String(models.KeyStatus))
	if status == "" {
		n.missing("order", models.KeyStatus, r)
	}

	o := models.Order{
		OrderID:          r.String(models.KeyClientOrderID),
		ExchangeOrderID:  r.String(models.KeyID),
		Symbol:           models.Symbol(r.String(models.KeySymbol)),
		Side:             models.ParseSide(r.String(models.KeySide)),
		Type:             models.ParseOrderType(r.String(models.KeyType)),
		Status:           status,
		OriginAmount:     dec(models.KeyAmount),
		FilledAmount:     dec(models.KeyFilled),
		OriginPrice:      dec(models.KeyPrice),
		StopPrice:        dec(models.KeyStopPrice),
		AverageFillPrice: dec(models.KeyAverage),
		ReduceOnly:       r.Bool(models.KeyReduceOnly),
		PostOnly:         r.Bool(models.KeyPostOnly),
		Tag:              r.String(models.KeyTag),
		Timestamp:        floatOr(r, models.KeyTimestamp, 0),
	}
	if status == models.StatusFilled && o.FilledAmount.IsZero() {
		o.FilledAmount = o.OriginAmount
	}
	o.SyncRemaining()
	if fee, ok := parseFee(r); ok {
		o.Fee = fee
	}
	return o
}

// Order: FixOrder + ParseOrder.
func (n *Normalizer) Order(raw models.Record) models.Order {
	return n.ParseOrder(n.FixOrder(raw))
}

// FixPosition: у пустой позиции денежные поля нулевые, цена ликвидации NaN; плечо берётся из контракта.
func (n *Normalizer) FixPosition(raw models.Record) models.Record {
	r := raw.Clone()
	already := r.Bool(models.KeyNormalized)
	if ts, ok := r.Float(models.KeyTimestamp); ok {
		r[models.KeyTimestamp] = UniformTimestamp(ts)
	}
	fixFloats(r, models.KeyContracts, models.KeyEntryPrice, models.KeyMarkPrice, models.KeyLiquidationPrice,
		models.KeyUnrealizedPnl, models.KeyRealizedPnl, models.KeyLeverage)

	symbol := models.Symbol(r.String(models.KeySymbol))
	c, hasContract := n.contract(symbol)

	size := floatOr(r, models.KeyContracts, 0)
	if !already && hasContract && c.ContractSize > 0 {
		size *= c.ContractSize
	}
	r[models.KeyContracts] = size

	if size == 0 {
		for _, k := range []string{models.KeyEntryPrice, models.KeyMarkPrice, models.KeyUnrealizedPnl, models.KeyRealizedPnl} {
			r[k] = 0.0
		}
		delete(r, models.KeyLiquidationPrice)
	}

	if lev := floatOr(r, models.KeyLeverage, 0); lev <= 0 {
		if hasContract && c.Leverage > 0 {
			r[models.KeyLeverage] = c.Leverage
		} else {
			n.log.Debug("position without leverage", zap.String("symbol", string(symbol)))
		}
	}
	if !r.Has(models.KeyMarginType) && hasContract {
		r[models.KeyMarginType] = string(c.MarginType)
	}
	if !r.Has(models.KeyPositionMode) && hasContract {
		r[models.KeyPositionMode] = string(c.PositionMode)
	}
	r[models.KeyNormalized] = true
	return r
}

func (n *Normalizer) ParsePosition(r models.Record) models.Position {
	if !r.Has(models.KeySymbol) {
		n.missing("position", models.KeySymbol, r)
	}
	side := models.PositionSide(r.String(models.KeySide))
	if side == "" {
		side = models.PositionBoth
	}
	return models.Position{
		Symbol:           models.Symbol(r.String(models.KeySymbol)),
		Side:             side,
		Size:             floatOr(r, models.KeyContracts, 0),
		EntryPrice:       floatOr(r, models.KeyEntryPrice, 0),
		MarkPrice:        floatOr(r, models.KeyMarkPrice, 0),
		LiquidationPrice: floatOr(r, models.KeyLiquidationPrice, nan()),
		UnrealizedPnl:    floatOr(r, models.KeyUnrealizedPnl, 0),
		RealizedPnl:      floatOr(r, models.KeyRealizedPnl, 0),
		MarginType:       models.MarginType(r.String(models.KeyMarginType)),
		Leverage:         floatOr(r, models.KeyLeverage, 0),
		Mode:             models.PositionMode(r.String(models.KeyPositionMode)),
		Timestamp:        floatOr(r, models.KeyTimestamp, 0),
	}
}

func (n *Normalizer) Position(raw models.Record) models.Position {
	return n.ParsePosition(n.FixPosition(raw))
}
