// Package normalizer переводит сырые записи биржи в канонические модели.
// Ни один метод не возвращает ошибку: недостающие поля логируются, отдаётся best-effort результат.
package normalizer

import (
	"math"
	"time"

	"exchange_core/internal/models"

	"go.uber.org/zap"
)

// msThreshold: всё что больше, считается миллисекундами.
const msThreshold = 1e11

type ContractSource interface {
	Contract(symbol models.Symbol) (models.Contract, bool)
}

type Normalizer struct {
	log                   *zap.Logger
	contracts             ContractSource
	dropIncompleteCandles bool
	now                   func() time.Time
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithContracts(src ContractSource) Option {
	return func(n *Normalizer) { n.contracts = src }
}

func DropIncompleteCandles(drop bool) Option {
	return func(n *Normalizer) { n.dropIncompleteCandles = drop }
}

func New(log *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		log: log.Named("normalizer"),
		now: time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// UniformTimestamp приводит timestamp к секундам.
func UniformTimestamp(ts float64) float64 {
	if ts > msThreshold {
		return ts / 1000
	}
	return ts
}

func (n *Normalizer) nowSeconds() float64 {
	return float64(n.now().UnixMilli()) / 1000
}

func (n *Normalizer) missing(kind, field string, r models.Record) {
	n.log.Warn("missing field in exchange record",
		zap.String("kind", kind),
		zap.String("field", field),
		zap.Any("record", map[string]any(r)),
	)
}

func (n *Normalizer) contract(symbol models.Symbol) (models.Contract, bool) {
	if n.contracts == nil || !symbol.IsFuture() {
		return models.Contract{}, false
	}
	return n.contracts.Contract(symbol)
}

// fixFloats приводит перечисленные поля к float64, невалидные удаляются.
func fixFloats(r models.Record, keys ...string) {
	for _, k := range keys {
		if !r.Has(k) {
			continue
		}
		if f, ok := r.Float(k); ok {
			r[k] = f
		} else {
			delete(r, k)
		}
	}
}

func floatOr(r models.Record, key string, def float64) float64 {
	if f, ok := r.Float(key); ok {
		return f
	}
	return def
}

func nan() float64 { return math.NaN() }
