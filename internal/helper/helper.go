package helper

import (
	"github.com/shopspring/decimal"
)

// RoundDownToTick округляет вниз до шага tick. Нулевой или отрицательный шаг оставляет значение как есть.
func RoundDownToTick(v decimal.Decimal, tick float64) decimal.Decimal {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return v.Div(t).Floor().Mul(t)
}

func RoundUpToTick(v decimal.Decimal, tick float64) decimal.Decimal {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return v.Div(t).Ceil().Mul(t)
}
