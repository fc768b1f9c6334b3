// Package okx описывает протокол OKX: инструменты, бары, подпись запросов, разбор WebSocket-кадров.
package okx

import (
	"strings"

	"exchange_core/internal/models"

	"github.com/pkg/errors"
)

const (
	InstSpot    = "SPOT"
	InstSwap    = "SWAP"
	InstFutures = "FUTURES"
)

// InstID: BTC/USDT -> BTC-USDT, BTC/USDT:USDT -> BTC-USDT-SWAP, BTC/USD:BTC-240628 -> BTC-USD-240628.
func InstID(symbol models.Symbol) string {
	base, quote := symbol.Base(), symbol.Quote()
	if !symbol.IsFuture() {
		return base + "-" + quote
	}
	settle := symbol.Settle()
	if _, expiry, ok := strings.Cut(settle, "-"); ok {
		return base + "-" + quote + "-" + expiry
	}
	return base + "-" + quote + "-SWAP"
}

// InstType возвращает тип инструмента OKX для символа.
func InstType(symbol models.Symbol) string {
	if !symbol.IsFuture() {
		return InstSpot
	}
	if strings.Contains(symbol.Settle(), "-") {
		return InstFutures
	}
	return InstSwap
}

// Symbol: обратное к InstID. Для инверсных контрактов расчёт в базовой валюте.
func Symbol(instID string) (models.Symbol, error) {
	parts := strings.Split(instID, "-")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.Errorf("okx: malformed instId %q", instID)
	}
	base, quote := parts[0], parts[1]
	if len(parts) == 2 {
		return models.Symbol(base + "/" + quote), nil
	}
	settle := quote
	if quote == "USD" {
		settle = base
	}
	if parts[2] == "SWAP" {
		return models.Symbol(base + "/" + quote + ":" + settle), nil
	}
	return models.Symbol(base + "/" + quote + ":" + settle + "-" + parts[2]), nil
}

// Bar переводит таймфрейм в обозначение бара OKX (1h -> 1H).
func Bar(tf models.TimeFrame) (string, error) {
	switch tf {
	case models.TF1m, models.TF3m, models.TF5m, models.TF15m, models.TF30m:
		return string(tf), nil
	case models.TF1h:
		return "1H", nil
	case models.TF2h:
		return "2H", nil
	case models.TF4h:
		return "4H", nil
	case models.TF6h:
		return "6H", nil
	case models.TF12h:
		return "12H", nil
	case models.TF1d:
		return "1D", nil
	case models.TF3d:
		return "3D", nil
	case models.TF1w:
		return "1W", nil
	case models.TF1M:
		return "1M", nil
	}
	return "", errors.Wrapf(models.ErrNotSupported, "okx bar for timeframe %q", tf)
}
