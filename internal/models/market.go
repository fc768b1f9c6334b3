package models

import (
	"math"
	"strings"
)

type Symbol string

// Base возвращает базовую валюту: BTC для BTC/USDT и BTC/USDT:USDT.
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), "/")
	return base
}

// Quote возвращает валюту котировки.
func (s Symbol) Quote() string {
	_, rest, ok := strings.Cut(string(s), "/")
	if !ok {
		return ""
	}
	quote, _, _ := strings.Cut(rest, ":")
	return quote
}

// Settle: валюта расчётов у деривативов (после двоеточия).
func (s Symbol) Settle() string {
	_, settle, _ := strings.Cut(string(s), ":")
	return settle
}

func (s Symbol) IsFuture() bool { return strings.Contains(string(s), ":") }

type Candle struct {
	OpenTime float64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

func (c Candle) Record() Record {
	return Record{
		KeyNormalized: true,
		KeyTimestamp:  c.OpenTime,
		KeyOpen:       c.Open,
		KeyHigh:       c.High,
		KeyLow:        c.Low,
		KeyClose:      c.Close,
		KeyVolume:     c.Volume,
		KeyConfirmed:  true,
	}
}

// Ticker: отсутствующие поля хранятся как NaN.
type Ticker struct {
	Symbol     Symbol
	Timestamp  float64
	Bid        float64
	Ask        float64
	Last       float64
	High       float64
	Low        float64
	Open       float64
	Close      float64
	BaseVolume float64
}

func EmptyTicker(symbol Symbol) Ticker {
	nan := math.NaN()
	return Ticker{
		Symbol: symbol, Timestamp: nan, Bid: nan, Ask: nan, Last: nan,
		High: nan, Low: nan, Open: nan, Close: nan, BaseVolume: nan,
	}
}

// Incomplete: тикер без timestamp.
func (t Ticker) Incomplete() bool {
	return math.IsNaN(t.Timestamp) || t.Timestamp <= 0
}

func (t Ticker) Record() Record {
	r := Record{KeyNormalized: true, KeySymbol: string(t.Symbol)}
	put := func(k string, v float64) {
		if !math.IsNaN(v) {
			r[k] = v
		}
	}
	put(KeyTimestamp, t.Timestamp)
	put(KeyBid, t.Bid)
	put(KeyAsk, t.Ask)
	put(KeyLast, t.Last)
	put(KeyHigh, t.High)
	put(KeyLow, t.Low)
	put(KeyOpen, t.Open)
	put(KeyClose, t.Close)
	put(KeyBaseVolume, t.BaseVolume)
	return r
}

type BookSide string

const (
	Bids BookSide = "bids"
	Asks BookSide = "asks"
)

type BookLevel struct {
	Price float64
	Size  float64
	Side  BookSide
}

type BookView struct {
	Symbol    Symbol
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp float64
}

func (b BookView) Record() Record {
	levels := func(in []BookLevel) [][]float64 {
		out := make([][]float64, 0, len(in))
		for _, l := range in {
			out = append(out, []float64{l.Price, l.Size})
		}
		return out
	}
	return Record{
		KeyNormalized: true,
		KeySymbol:     string(b.Symbol),
		KeyTimestamp:  b.Timestamp,
		KeyBids:       levels(b.Bids),
		KeyAsks:       levels(b.Asks),
	}
}

// BookDelta: изменение одного ценового уровня, Size == 0 удаляет уровень.
type BookDelta struct {
	Side  BookSide
	Price float64
	Size  float64
}

type Trade struct {
	ID        string
	OrderID   string
	Symbol    Symbol
	Side      Side
	Price     float64
	Amount    float64
	Cost      float64
	Timestamp float64
	Fee       *Fee
}

type Funding struct {
	Symbol          Symbol
	Rate            float64
	PredictedRate   float64 // NaN если биржа не отдаёт
	NextFundingTime float64
	LastFundingTime float64
}

type MarkPrice struct {
	Symbol    Symbol
	Price     float64
	Timestamp float64
}

type Liquidation struct {
	Symbol    Symbol
	Side      Side
	Price     float64
	Amount    float64
	Timestamp float64
}

type AssetBalance struct {
	Free  float64
	Used  float64
	Total float64
}

type Balance map[string]AssetBalance
