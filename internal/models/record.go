package models

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Record: промежуточное представление сырого payload биржи (после декодирования JSON).
type Record map[string]any

// Канонические ключи записей.
const (
	KeyNormalized = "normalized"
	KeyTimestamp  = "timestamp"
	KeySymbol     = "symbol"
	KeyTimeFrame  = "timeframe"
	KeyConfirmed  = "confirmed"

	KeyOpen   = "open"
	KeyHigh   = "high"
	KeyLow    = "low"
	KeyClose  = "close"
	KeyVolume = "volume"

	KeyBid        = "bid"
	KeyAsk        = "ask"
	KeyLast       = "last"
	KeyBaseVolume = "baseVolume"

	KeyBids   = "bids"
	KeyAsks   = "asks"
	KeyAction = "action"

	KeyID              = "id"
	KeyClientOrderID   = "clientOrderId"
	KeySide            = "side"
	KeyType            = "type"
	KeyStatus          = "status"
	KeyPrice           = "price"
	KeyStopPrice       = "stopPrice"
	KeyAmount          = "amount"
	KeyFilled          = "filled"
	KeyRemaining       = "remaining"
	KeyCost            = "cost"
	KeyAverage         = "average"
	KeyFee             = "fee"
	KeyFeeCost         = "cost"
	KeyFeeCurrency     = "currency"
	KeyFeeIsFromEx     = "isFromExchange"
	KeyFeeOriginalCost = "originalCost"
	KeyReduceOnly      = "reduceOnly"
	KeyPostOnly        = "postOnly"
	KeyTag             = "tag"

	KeyContracts        = "contracts"
	KeyContractSize     = "contractSize"
	KeyEntryPrice       = "entryPrice"
	KeyMarkPrice        = "markPrice"
	KeyLiquidationPrice = "liquidationPrice"
	KeyUnrealizedPnl    = "unrealizedPnl"
	KeyRealizedPnl      = "realizedPnl"
	KeyMarginType       = "marginType"
	KeyLeverage         = "leverage"
	KeyPositionMode     = "positionMode"

	KeyFundingRate          = "fundingRate"
	KeyPredictedFundingRate = "predictedFundingRate"
	KeyNextFundingTime      = "nextFundingTime"
	KeyLastFundingTime      = "lastFundingTime"

	KeyCurrency = "currency"
	KeyFree     = "free"
	KeyUsed     = "used"
	KeyTotal    = "total"
)

func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Float приводит значение к float64; строки парсятся, пустые считаются отсутствующими.
func (r Record) Float(key string) (float64, bool) {
	return ToFloat(r[key])
}

func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case decimal.Decimal:
		return v.String()
	}
	return ""
}

func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

func (r Record) Decimal(key string) (decimal.Decimal, bool) {
	return ToDecimal(r[key])
}

// Sub возвращает вложенную запись (например fee).
func (r Record) Sub(key string) (Record, bool) {
	switch v := r[key].(type) {
	case Record:
		return v, true
	case map[string]any:
		return Record(v), true
	}
	return nil, false
}

// Clone делает глубокую копию, вложенные map и slice копируются.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return Record(t).Clone()
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	case [][]float64:
		cp := make([][]float64, len(t))
		for i := range t {
			cp[i] = append([]float64(nil), t[i]...)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

func CloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case decimal.Decimal:
		return t.InexactFloat64(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func ToDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	}
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
