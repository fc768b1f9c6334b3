package websocket

import (
	"context"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"
)

// feedHandler нормализует пачку записей фида и публикует её в шину.
type feedHandler func(ctx context.Context, sub Subscription, recs []models.Record) error

const bookActionUpdate = "update"

func (c *Connector) dispatchTable() map[Feed]feedHandler {
	return map[Feed]feedHandler{
		FeedKline:        c.onCandles,
		FeedCandle:       c.onCandles,
		FeedTicker:       c.onTicker(channels.Ticker),
		FeedMiniTicker:   c.onTicker(channels.MiniTicker),
		FeedBook:         c.onBook,
		FeedBookTicker:   c.onBookTicker,
		FeedTrades:       c.onRecentTrades,
		FeedFunding:      c.onFunding,
		FeedMarkPrice:    c.onMarkPrice,
		FeedLiquidations: c.onLiquidations,
		FeedPortfolio:    c.onBalance,
		FeedOrders:       c.onOrders,
		FeedUserTrades:   c.onUserTrades,
		FeedPositions:    c.onPositions,
	}
}

func event(symbol models.Symbol, payload any) channels.Event {
	return channels.Event{Cryptocurrency: symbol.Base(), Symbol: symbol, Payload: payload}
}

func withSymbol(r models.Record, symbol models.Symbol) models.Record {
	if !r.Has(models.KeySymbol) && symbol != "" {
		r[models.KeySymbol] = string(symbol)
	}
	return r
}

func (c *Connector) onCandles(ctx context.Context, sub Subscription, recs []models.Record) error {
	candles := c.norm.Candles(recs, sub.TimeFrame)
	if len(candles) == 0 {
		return nil
	}
	return c.publishCandles(ctx, sub, candles)
}

func (c *Connector) onTicker(name channels.Name) feedHandler {
	return func(ctx context.Context, sub Subscription, recs []models.Record) error {
		for _, r := range recs {
			t := c.norm.ParseTicker(c.norm.FixTicker(withSymbol(r, sub.Symbol)))
			if err := c.push(ctx, name, event(t.Symbol, channels.TickerUpdate{Symbol: t.Symbol, Ticker: t})); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *Connector) onBook(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		fixed := c.norm.FixBook(withSymbol(r, sub.Symbol))
		view := c.norm.ParseBook(fixed)
		book := c.books.Book(view.Symbol)
		if fixed.String(models.KeyAction) == bookActionUpdate {
			book.ApplyDelta(normalizer.BookDeltas(view), view.Timestamp)
		} else {
			book.ApplySnapshot(view.Bids, view.Asks, view.Timestamp)
		}
		snap := book.Snapshot(0)
		if err := c.push(ctx, channels.OrderBook, event(view.Symbol, channels.BookUpdate{
			Symbol:          view.Symbol,
			Asks:            snap.Asks,
			Bids:            snap.Bids,
			UpdateOrderBook: true,
		})); err != nil {
			return err
		}
		bid, ask := book.Best()
		if err := c.push(ctx, channels.OrderBookTicker, event(view.Symbol, channels.BookTickerUpdate{
			Symbol: view.Symbol, Bid: bid, Ask: ask,
		})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onBookTicker(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		t := c.norm.ParseTicker(c.norm.FixTicker(withSymbol(r, sub.Symbol)))
		upd := channels.BookTickerUpdate{
			Symbol: t.Symbol,
			Bid:    models.BookLevel{Price: t.Bid, Side: models.Bids},
			Ask:    models.BookLevel{Price: t.Ask, Side: models.Asks},
		}
		if v, ok := r.Float("bidVolume"); ok {
			upd.Bid.Size = v
		}
		if v, ok := r.Float("askVolume"); ok {
			upd.Ask.Size = v
		}
		if err := c.push(ctx, channels.OrderBookTicker, event(t.Symbol, upd)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onRecentTrades(ctx context.Context, sub Subscription, recs []models.Record) error {
	trades := make([]models.Trade, 0, len(recs))
	for _, r := range recs {
		trades = append(trades, c.norm.ParseTrade(c.norm.FixTrade(withSymbol(r, sub.Symbol))))
	}
	if len(trades) == 0 {
		return nil
	}
	return c.push(ctx, channels.RecentTrades, event(sub.Symbol, channels.RecentTradesUpdate{Symbol: sub.Symbol, Trades: trades}))
}

func (c *Connector) onFunding(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		f := c.norm.ParseFunding(c.norm.FixFunding(withSymbol(r, sub.Symbol)))
		if err := c.push(ctx, channels.Funding, event(f.Symbol, channels.FundingUpdate{
			Symbol:        f.Symbol,
			FundingRate:   f.Rate,
			PredictedRate: f.PredictedRate,
			NextTime:      f.NextFundingTime,
			LastTime:      f.LastFundingTime,
		})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onMarkPrice(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		m := c.norm.ParseMarkPrice(withSymbol(r, sub.Symbol))
		if err := c.push(ctx, channels.MarkPrice, event(m.Symbol, channels.MarkPriceUpdate{Symbol: m.Symbol, MarkPrice: m.Price})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onLiquidations(ctx context.Context, sub Subscription, recs []models.Record) error {
	out := make([]models.Liquidation, 0, len(recs))
	for _, r := range recs {
		out = append(out, c.norm.ParseLiquidation(withSymbol(r, sub.Symbol)))
	}
	if len(out) == 0 {
		return nil
	}
	return c.push(ctx, channels.Liquidations, event(sub.Symbol, channels.LiquidationsUpdate{Symbol: sub.Symbol, Liquidations: out}))
}

func (c *Connector) onBalance(ctx context.Context, _ Subscription, recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	balance := c.norm.ParseBalance(recs)
	return c.push(ctx, channels.Balance, channels.Event{Payload: channels.BalanceUpdate{Balance: balance}})
}

// onOrders отдаёт ордера менеджеру ордеров; события ORDERS публикует он сам.
func (c *Connector) onOrders(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		o := c.norm.Order(withSymbol(r, sub.Symbol))
		if c.order != nil {
			if err := c.order(ctx, o); err != nil {
				return err
			}
			continue
		}
		if err := c.push(ctx, channels.Orders, event(o.Symbol, channels.OrderUpdate{Symbol: o.Symbol, Order: o})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onUserTrades(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		t := c.norm.ParseTrade(c.norm.FixTrade(withSymbol(r, sub.Symbol)))
		if err := c.push(ctx, channels.Trades, event(t.Symbol, channels.TradeUpdate{Symbol: t.Symbol, Trade: t})); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) onPositions(ctx context.Context, sub Subscription, recs []models.Record) error {
	for _, r := range recs {
		p := c.norm.Position(withSymbol(r, sub.Symbol))
		if err := c.push(ctx, channels.Positions, event(p.Symbol, channels.PositionUpdate{Position: p})); err != nil {
			return err
		}
	}
	return nil
}
