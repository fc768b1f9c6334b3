package okx

import (
	"math"
	"strings"

	"exchange_core/internal/models"
)

// Преобразователи объектов OKX (REST и WebSocket отдают одинаковые поля) в записи models.Record.

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// put кладёт непустое строковое значение под ключом записи.
func put(r models.Record, key string, m map[string]any, field string) {
	if v := str(m, field); v != "" {
		r[key] = v
	}
}

func symbolOf(m map[string]any) string {
	s, err := Symbol(str(m, "instId"))
	if err != nil {
		return ""
	}
	return string(s)
}

func isSwap(instID string) bool { return strings.HasSuffix(instID, "-SWAP") }

// CandleRecords: строки [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func CandleRecords(instID string, rows []any) []models.Record {
	symbol, _ := Symbol(instID)
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		cols, ok := row.([]any)
		if !ok || len(cols) < 6 {
			continue
		}
		at := func(i int) any {
			if i < len(cols) {
				return cols[i]
			}
			return nil
		}
		r := models.Record{
			models.KeySymbol:    string(symbol),
			models.KeyTimestamp: at(0),
			models.KeyOpen:      at(1),
			models.KeyHigh:      at(2),
			models.KeyLow:       at(3),
			models.KeyClose:     at(4),
			models.KeyVolume:    at(5),
		}
		if isSwap(instID) && len(cols) > 6 {
			r[models.KeyVolume] = at(6)
		}
		if len(cols) >= 9 {
			confirm, _ := cols[len(cols)-1].(string)
			r[models.KeyConfirmed] = confirm == "1"
		}
		out = append(out, r)
	}
	return out
}

func TickerRecord(m map[string]any) models.Record {
	r := models.Record{models.KeySymbol: symbolOf(m)}
	put(r, models.KeyTimestamp, m, "ts")
	put(r, models.KeyLast, m, "last")
	put(r, models.KeyBid, m, "bidPx")
	put(r, models.KeyAsk, m, "askPx")
	put(r, models.KeyOpen, m, "open24h")
	put(r, models.KeyHigh, m, "high24h")
	put(r, models.KeyLow, m, "low24h")
	put(r, "bidVolume", m, "bidSz")
	put(r, "askVolume", m, "askSz")
	if isSwap(str(m, "instId")) {
		put(r, models.KeyBaseVolume, m, "volCcy24h")
	} else {
		put(r, models.KeyBaseVolume, m, "vol24h")
	}
	return r
}

// BookRecord: action snapshot или update, уровни [px, sz, ...].
func BookRecord(instID, action string, m map[string]any) models.Record {
	symbol, _ := Symbol(instID)
	if action == "" {
		action = "snapshot"
	}
	r := models.Record{
		models.KeySymbol: string(symbol),
		models.KeyAction: action,
		models.KeyBids:   m["bids"],
		models.KeyAsks:   m["asks"],
	}
	put(r, models.KeyTimestamp, m, "ts")
	return r
}

// BookTickerRecord: лучший уровень из bbo-tbt.
func BookTickerRecord(instID string, m map[string]any) models.Record {
	symbol, _ := Symbol(instID)
	r := models.Record{models.KeySymbol: string(symbol)}
	put(r, models.KeyTimestamp, m, "ts")
	top := func(side string) []any {
		levels, _ := m[side].([]any)
		if len(levels) == 0 {
			return nil
		}
		l, _ := levels[0].([]any)
		return l
	}
	if l := top("bids"); len(l) >= 2 {
		r[models.KeyBid], r["bidVolume"] = l[0], l[1]
	}
	if l := top("asks"); len(l) >= 2 {
		r[models.KeyAsk], r["askVolume"] = l[0], l[1]
	}
	return r
}

func TradeRecord(m map[string]any) models.Record {
	r := models.Record{models.KeySymbol: symbolOf(m)}
	put(r, models.KeyID, m, "tradeId")
	put(r, models.KeyPrice, m, "px")
	put(r, models.KeyAmount, m, "sz")
	put(r, models.KeySide, m, "side")
	put(r, models.KeyTimestamp, m, "ts")
	return r
}

// FundingRecord: fundingTime у OKX означает ближайшее списание, nextFundingTime следующее за ним.
func FundingRecord(m map[string]any) models.Record {
	r := models.Record{models.KeySymbol: symbolOf(m)}
	put(r, models.KeyFundingRate, m, "fundingRate")
	put(r, models.KeyPredictedFundingRate, m, "nextFundingRate")
	put(r, models.KeyNextFundingTime, m, "fundingTime")
	next, ok1 := models.ToFloat(m["fundingTime"])
	after, ok2 := models.ToFloat(m["nextFundingTime"])
	if ok1 && ok2 && after > next {
		r[models.KeyLastFundingTime] = next - (after - next)
	}
	return r
}

func MarkPriceRecord(m map[string]any) models.Record {
	r := models.Record{models.KeySymbol: symbolOf(m)}
	put(r, models.KeyMarkPrice, m, "markPx")
	put(r, models.KeyTimestamp, m, "ts")
	return r
}

func LiquidationRecords(m map[string]any) []models.Record {
	symbol := symbolOf(m)
	details, _ := m["details"].([]any)
	out := make([]models.Record, 0, len(details))
	for _, d := range details {
		dm, ok := d.(map[string]any)
		if !ok {
			continue
		}
		r := models.Record{models.KeySymbol: symbol}
		put(r, models.KeySide, dm, "side")
		put(r, models.KeyPrice, dm, "bkPx")
		put(r, models.KeyAmount, dm, "sz")
		put(r, models.KeyTimestamp, dm, "ts")
		out = append(out, r)
	}
	return out
}

func orderType(m map[string]any) string {
	switch str(m, "ordType") {
	case "market", "optimal_limit_ioc":
		return string(models.OrderMarket)
	case "limit", "post_only", "fok", "ioc":
		return string(models.OrderLimit)
	case "conditional", "trigger", "oco":
		if str(m, "slTriggerPx") != "" {
			return string(models.OrderStopLoss)
		}
		if str(m, "tpTriggerPx") != "" {
			return string(models.OrderTakeProfit)
		}
		return string(models.OrderStopLoss)
	case "move_order_stop":
		return string(models.OrderTrailingStop)
	}
	return string(models.OrderUnsupported)
}

func orderStatus(state string) string {
	switch state {
	case "live":
		return string(models.StatusOpen)
	case "partially_filled":
		return string(models.StatusPartiallyFilled)
	case "filled", "effective":
		return string(models.StatusFilled)
	case "canceled", "mmp_canceled", "order_failed":
		return string(models.StatusCanceled)
	}
	return state
}

// OrderRecord: ордер из /trade/order или канала orders. Размер у деривативов в контрактах.
func OrderRecord(m map[string]any) models.Record {
	r := models.Record{
		models.KeySymbol:     symbolOf(m),
		models.KeyType:       orderType(m),
		models.KeyStatus:     orderStatus(str(m, "state")),
		models.KeyReduceOnly: str(m, "reduceOnly") == "true",
		models.KeyPostOnly:   str(m, "ordType") == "post_only",
	}
	put(r, models.KeyID, m, "ordId")
	put(r, models.KeyClientOrderID, m, "clOrdId")
	put(r, models.KeySide, m, "side")
	put(r, models.KeyAmount, m, "sz")
	put(r, models.KeyFilled, m, "accFillSz")
	put(r, models.KeyAverage, m, "avgPx")
	put(r, models.KeyTag, m, "tag")
	put(r, models.KeyTimestamp, m, "uTime")
	if px := str(m, "px"); px != "" && px != "-1" {
		r[models.KeyPrice] = px
	}
	if sl := str(m, "slTriggerPx"); sl != "" {
		r[models.KeyStopPrice] = sl
	} else if tp := str(m, "tpTriggerPx"); tp != "" {
		r[models.KeyStopPrice] = tp
	}
	if fee, ok := models.ToFloat(m["fee"]); ok {
		// OKX присылает списанную комиссию со знаком минус
		r[models.KeyFee] = models.Record{
			models.KeyFeeCost:     -fee,
			models.KeyFeeCurrency: str(m, "feeCcy"),
		}
	}
	return r
}

// PositionRecord: для режима net сторона определяется знаком pos.
func PositionRecord(m map[string]any) models.Record {
	r := models.Record{models.KeySymbol: symbolOf(m)}
	pos, _ := models.ToFloat(m["pos"])
	r[models.KeyContracts] = math.Abs(pos)

	side := str(m, "posSide")
	mode := models.PositionHedge
	if side == "net" || side == "" {
		mode = models.PositionOneWay
		switch {
		case pos > 0:
			side = string(models.PositionLong)
		case pos < 0:
			side = string(models.PositionShort)
		default:
			side = string(models.PositionBoth)
		}
	}
	r[models.KeySide] = side
	r[models.KeyPositionMode] = string(mode)

	put(r, models.KeyEntryPrice, m, "avgPx")
	put(r, models.KeyMarkPrice, m, "markPx")
	put(r, models.KeyLiquidationPrice, m, "liqPx")
	put(r, models.KeyUnrealizedPnl, m, "upl")
	put(r, models.KeyRealizedPnl, m, "realizedPnl")
	put(r, models.KeyMarginType, m, "mgnMode")
	put(r, models.KeyLeverage, m, "lever")
	put(r, models.KeyTimestamp, m, "uTime")
	return r
}

// BalanceRecords: details из канала account.
func BalanceRecords(m map[string]any) []models.Record {
	details, _ := m["details"].([]any)
	out := make([]models.Record, 0, len(details))
	for _, d := range details {
		dm, ok := d.(map[string]any)
		if !ok {
			continue
		}
		r := models.Record{models.KeyCurrency: str(dm, "ccy")}
		put(r, models.KeyFree, dm, "availBal")
		put(r, models.KeyUsed, dm, "frozenBal")
		put(r, models.KeyTotal, dm, "eq")
		out = append(out, r)
	}
	return out
}
