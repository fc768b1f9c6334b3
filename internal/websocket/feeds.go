// Package websocket держит долгоживущую потоковую сессию с биржей: по задаче на (фид, символ[, таймфрейм]),
// переподключение, троттлинг и упорядочивание свечей.
package websocket

import (
	"strings"

	"exchange_core/internal/models"
)

type Feed string

const (
	FeedKline        Feed = "kline"
	FeedCandle       Feed = "candle"
	FeedTicker       Feed = "ticker"
	FeedMiniTicker   Feed = "mini_ticker"
	FeedBook         Feed = "book"
	FeedBookTicker   Feed = "book_ticker"
	FeedTrades       Feed = "trades"
	FeedFuturesIndex Feed = "futures_index"
	FeedFunding      Feed = "funding"
	FeedMarkPrice    Feed = "mark_price"
	FeedLiquidations Feed = "liquidations"

	FeedPortfolio  Feed = "portfolio"
	FeedOrders     Feed = "orders"
	FeedUserTrades Feed = "user_trades"
	FeedPositions  Feed = "positions"
	FeedLedger     Feed = "ledger"
)

type Topology string

const (
	// TopologyPairIndependent: одна задача на фид, события аккаунта.
	TopologyPairIndependent Topology = "pair_independent"
	// TopologyTradedPair: задача на каждую пару (и таймфрейм).
	TopologyTradedPair Topology = "traded_pair"
)

// FeedSpec описывает, как фид подписывается на конкретной бирже.
type FeedSpec struct {
	Feed         Feed
	Subscription string // имя канала биржи, {timeframe} подставляется диалектом
	Endpoint     string // ключ из Descriptor.Endpoints
	Topology     Topology
	Private      bool
	RequiresInit bool
	Throttleable bool
	PerTimeFrame bool
	Watched      bool // доступен для watched-пар
	FuturesOnly  bool
}

type Subscription struct {
	Feed      Feed
	Spec      FeedSpec
	Symbol    models.Symbol
	TimeFrame models.TimeFrame
	Watched   bool
}

// Key однозначно определяет задачу фида.
func (s Subscription) Key() string {
	parts := []string{string(s.Feed)}
	if s.Symbol != "" {
		parts = append(parts, string(s.Symbol))
	}
	if s.TimeFrame != "" {
		parts = append(parts, string(s.TimeFrame))
	}
	return strings.Join(parts, "|")
}

type Credentials struct {
	APIKey    string
	APISecret string
	Password  string
	UID       string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}
