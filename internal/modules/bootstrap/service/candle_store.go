package service

import (
	"sort"
	"sync"

	"exchange_core/internal/models"
)

const defaultMaxCandles = 1000

type seriesKey struct {
	symbol models.Symbol
	tf     models.TimeFrame
}

type candleSeries struct {
	candles     []models.Candle // по возрастанию OpenTime
	initialized bool
}

// CandleStore: свечи в памяти по (символ, таймфрейм). Серия считается инициализированной после бэкфилла.
type CandleStore struct {
	mu     sync.RWMutex
	series map[seriesKey]*candleSeries
	max    int
}

func NewCandleStore(maxCandles int) *CandleStore {
	if maxCandles <= 0 {
		maxCandles = defaultMaxCandles
	}
	return &CandleStore{
		series: make(map[seriesKey]*candleSeries),
		max:    maxCandles,
	}
}

func (s *CandleStore) get(symbol models.Symbol, tf models.TimeFrame) *candleSeries {
	k := seriesKey{symbol: symbol, tf: tf}
	ser, ok := s.series[k]
	if !ok {
		ser = &candleSeries{}
		s.series[k] = ser
	}
	return ser
}

func (s *CandleStore) Initialized(symbol models.Symbol, tf models.TimeFrame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[seriesKey{symbol: symbol, tf: tf}]
	return ok && ser.initialized
}

// Load кладёт историю из бэкфилла и помечает серию инициализированной.
// Свечи, пришедшие из потока раньше истории, сохраняются.
func (s *CandleStore) Load(symbol models.Symbol, tf models.TimeFrame, candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ser := s.get(symbol, tf)
	for _, c := range candles {
		ser.upsert(c)
	}
	s.trim(ser)
	ser.initialized = true
}

// Upsert вставляет свечу по OpenTime; known == true, если такая свеча уже была.
func (s *CandleStore) Upsert(symbol models.Symbol, tf models.TimeFrame, c models.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ser := s.get(symbol, tf)
	known := ser.upsert(c)
	s.trim(ser)
	return known
}

func (ser *candleSeries) upsert(c models.Candle) bool {
	n := len(ser.candles)
	if n == 0 || ser.candles[n-1].OpenTime < c.OpenTime {
		ser.candles = append(ser.candles, c)
		return false
	}
	i := sort.Search(n, func(i int) bool { return ser.candles[i].OpenTime >= c.OpenTime })
	if i < n && ser.candles[i].OpenTime == c.OpenTime {
		ser.candles[i] = c
		return true
	}
	ser.candles = append(ser.candles, models.Candle{})
	copy(ser.candles[i+1:], ser.candles[i:])
	ser.candles[i] = c
	return false
}

func (s *CandleStore) trim(ser *candleSeries) {
	if extra := len(ser.candles) - s.max; extra > 0 {
		ser.candles = append(ser.candles[:0:0], ser.candles[extra:]...)
	}
}

// Candles возвращает копию серии, от старых к новым.
func (s *CandleStore) Candles(symbol models.Symbol, tf models.TimeFrame) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[seriesKey{symbol: symbol, tf: tf}]
	if !ok {
		return nil
	}
	return append([]models.Candle(nil), ser.candles...)
}

// Forget удаляет все серии символа.
func (s *CandleStore) Forget(symbol models.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.series {
		if k.symbol == symbol {
			delete(s.series, k)
		}
	}
}
