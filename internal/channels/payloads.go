package channels

import "exchange_core/internal/models"

// OHLCV и KLINE.
type CandleUpdate struct {
	TimeFrame models.TimeFrame
	Symbol    models.Symbol
	Candle    models.Candle
}

type TickerUpdate struct {
	Symbol models.Symbol
	Ticker models.Ticker
}

type BookUpdate struct {
	Symbol          models.Symbol
	Asks            []models.BookLevel
	Bids            []models.BookLevel
	UpdateOrderBook bool
}

type BookTickerUpdate struct {
	Symbol models.Symbol
	Bid    models.BookLevel
	Ask    models.BookLevel
}

type RecentTradesUpdate struct {
	Symbol models.Symbol
	Trades []models.Trade
}

type OrderUpdate struct {
	Symbol models.Symbol
	Order  models.Order
}

type TradeUpdate struct {
	Symbol models.Symbol
	Trade  models.Trade
}

type BalanceUpdate struct {
	Balance models.Balance
}

type PositionUpdate struct {
	Position models.Position
}

type FundingUpdate struct {
	Symbol        models.Symbol
	FundingRate   float64
	PredictedRate float64 // NaN, если биржа не прогнозирует
	NextTime      float64
	LastTime      float64
}

type MarkPriceUpdate struct {
	Symbol    models.Symbol
	MarkPrice float64
}

type LiquidationsUpdate struct {
	Symbol       models.Symbol
	Liquidations []models.Liquidation
}
