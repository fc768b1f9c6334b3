package normalizer

import (
	"exchange_core/internal/models"
)

// FixCandles выравнивает время открытия, приводит числа к float и при необходимости
// отбрасывает последнюю незакрытую свечу.
func (n *Normalizer) FixCandles(raw []models.Record, tf models.TimeFrame) []models.Record {
	out := make([]models.Record, 0, len(raw))
	for i, src := range raw {
		r := src.Clone()
		ts, ok := r.Float(models.KeyTimestamp)
		if !ok {
			n.missing("candle", models.KeyTimestamp, src)
			continue
		}
		r[models.KeyTimestamp] = tf.Align(UniformTimestamp(ts))
		fixFloats(r, models.KeyOpen, models.KeyHigh, models.KeyLow, models.KeyClose, models.KeyVolume)
		if !r.Has(models.KeyConfirmed) {
			r[models.KeyConfirmed] = true
		} else {
			r[models.KeyConfirmed] = r.Bool(models.KeyConfirmed)
		}
		if n.dropIncompleteCandles && i == len(raw)-1 && !r.Bool(models.KeyConfirmed) {
			continue
		}
		r[models.KeyNormalized] = true
		out = append(out, r)
	}
	return out
}

func (n *Normalizer) ParseCandle(r models.Record) models.Candle {
	for _, k := range []string{models.KeyOpen, models.KeyHigh, models.KeyLow, models.KeyClose} {
		if !r.Has(k) {
			n.missing("candle", k, r)
		}
	}
	return models.Candle{
		OpenTime: floatOr(r, models.KeyTimestamp, 0),
		Open:     floatOr(r, models.KeyOpen, 0),
		High:     floatOr(r, models.KeyHigh, 0),
		Low:      floatOr(r, models.KeyLow, 0),
		Close:    floatOr(r, models.KeyClose, 0),
		Volume:   floatOr(r, models.KeyVolume, 0),
	}
}

// Candles: FixCandles + ParseCandle для пачки.
func (n *Normalizer) Candles(raw []models.Record, tf models.TimeFrame) []models.Candle {
	fixed := n.FixCandles(raw, tf)
	out := make([]models.Candle, 0, len(fixed))
	for _, r := range fixed {
		out = append(out, n.ParseCandle(r))
	}
	return out
}

func (n *Normalizer) FixTicker(raw models.Record) models.Record {
	r := raw.Clone()
	if ts, ok := r.Float(models.KeyTimestamp); ok {
		r[models.KeyTimestamp] = UniformTimestamp(ts)
	}
	fixFloats(r, models.KeyBid, models.KeyAsk, models.KeyLast, models.KeyHigh, models.KeyLow,
		models.KeyOpen, models.KeyClose, models.KeyBaseVolume)
	if !r.Has(models.KeyClose) && r.Has(models.KeyLast) {
		r[models.KeyClose] = r[models.KeyLast]
	}
	r[models.KeyNormalized] = true
	return r
}

func (n *Normalizer) ParseTicker(r models.Record) models.Ticker {
	symbol := r.String(models.KeySymbol)
	if symbol == "" {
		n.missing("ticker", models.KeySymbol, r)
	}
	return models.Ticker{
		Symbol:     models.Symbol(symbol),
		Timestamp:  floatOr(r, models.KeyTimestamp, nan()),
		Bid:        floatOr(r, models.KeyBid, nan()),
		Ask:        floatOr(r, models.KeyAsk, nan()),
		Last:       floatOr(r, models.KeyLast, nan()),
		High:       floatOr(r, models.KeyHigh, nan()),
		Low:        floatOr(r, models.KeyLow, nan()),
		Open:       floatOr(r, models.KeyOpen, nan()),
		Close:      floatOr(r, models.KeyClose, nan()),
		BaseVolume: floatOr(r, models.KeyBaseVolume, nan()),
	}
}

// FixBook проставляет текущее время, если биржа его не прислала, и приводит уровни к [][]float64.
func (n *Normalizer) FixBook(raw models.Record) models.Record {
	r := raw.Clone()
	if ts, ok := r.Float(models.KeyTimestamp); ok && ts > 0 {
		r[models.KeyTimestamp] = UniformTimestamp(ts)
	} else {
		r[models.KeyTimestamp] = n.nowSeconds()
	}
	r[models.KeyBids] = levels(r[models.KeyBids])
	r[models.KeyAsks] = levels(r[models.KeyAsks])
	r[models.KeyNormalized] = true
	return r
}

func levels(v any) [][]float64 {
	var out [][]float64
	add := func(price, size any) {
		p, ok1 := models.ToFloat(price)
		s, ok2 := models.ToFloat(size)
		if ok1 && ok2 {
			out = append(out, []float64{p, s})
		}
	}
	switch t := v.(type) {
	case [][]float64:
		for _, l := range t {
			if len(l) >= 2 {
				out = append(out, []float64{l[0], l[1]})
			}
		}
	case [][]any:
		for _, l := range t {
			if len(l) >= 2 {
				add(l[0], l[1])
			}
		}
	case [][]string:
		for _, l := range t {
			if len(l) >= 2 {
				add(l[0], l[1])
			}
		}
	case []any:
		for _, item := range t {
			switch l := item.(type) {
			case []any:
				if len(l) >= 2 {
					add(l[0], l[1])
				}
			case []string:
				if len(l) >= 2 {
					add(l[0], l[1])
				}
			case []float64:
				if len(l) >= 2 {
					out = append(out, []float64{l[0], l[1]})
				}
			}
		}
	}
	return out
}

func (n *Normalizer) ParseBook(r models.Record) models.BookView {
	toLevels := func(side models.BookSide) []models.BookLevel {
		raw, _ := r[string(side)].([][]float64)
		out := make([]models.BookLevel, 0, len(raw))
		for _, l := range raw {
			out = append(out, models.BookLevel{Price: l[0], Size: l[1], Side: side})
		}
		return out
	}
	return models.BookView{
		Symbol:    models.Symbol(r.String(models.KeySymbol)),
		Bids:      toLevels(models.Bids),
		Asks:      toLevels(models.Asks),
		Timestamp: floatOr(r, models.KeyTimestamp, n.nowSeconds()),
	}
}

// BookDeltas превращает нормализованную запись стакана в список изменений уровней.
func BookDeltas(view models.BookView) []models.BookDelta {
	out := make([]models.BookDelta, 0, len(view.Bids)+len(view.Asks))
	for _, l := range view.Bids {
		out = append(out, models.BookDelta{Side: models.Bids, Price: l.Price, Size: l.Size})
	}
	for _, l := range view.Asks {
		out = append(out, models.BookDelta{Side: models.Asks, Price: l.Price, Size: l.Size})
	}
	return out
}

func (n *Normalizer) FixTrade(raw models.Record) models.Record {
	r := raw.Clone()
	if ts, ok := r.Float(models.KeyTimestamp); ok {
		r[models.KeyTimestamp] = UniformTimestamp(ts)
	}
	fixFloats(r, models.KeyPrice, models.KeyAmount, models.KeyCost)
	if !r.Has(models.KeyCost) && r.Has(models.KeyPrice) && r.Has(models.KeyAmount) {
		p, _ := r.Float(models.KeyPrice)
		a, _ := r.Float(models.KeyAmount)
		r[models.KeyCost] = p * a
	}
	r[models.KeyNormalized] = true
	return r
}

func (n *Normalizer) ParseTrade(r models.Record) models.Trade {
	if !r.Has(models.KeyPrice) {
		n.missing("trade", models.KeyPrice, r)
	}
	t := models.Trade{
		ID:        r.String(models.KeyID),
		OrderID:   r.String("order"),
		Symbol:    models.Symbol(r.String(models.KeySymbol)),
		Side:      models.ParseSide(r.String(models.KeySide)),
		Price:     floatOr(r, models.KeyPrice, 0),
		Amount:    floatOr(r, models.KeyAmount, 0),
		Cost:      floatOr(r, models.KeyCost, 0),
		Timestamp: floatOr(r, models.KeyTimestamp, 0),
	}
	if fee, ok := parseFee(r); ok {
		t.Fee = fee
	}
	return t
}

func (n *Normalizer) FixFunding(raw models.Record) models.Record {
	r := raw.Clone()
	for _, k := range []string{models.KeyNextFundingTime, models.KeyLastFundingTime} {
		if ts, ok := r.Float(k); ok {
			r[k] = UniformTimestamp(ts)
		}
	}
	fixFloats(r, models.KeyFundingRate, models.KeyPredictedFundingRate)
	r[models.KeyNormalized] = true
	return r
}

func (n *Normalizer) ParseFunding(r models.Record) models.Funding {
	if !r.Has(models.KeyFundingRate) {
		n.missing("funding", models.KeyFundingRate, r)
	}
	return models.Funding{
		Symbol:          models.Symbol(r.String(models.KeySymbol)),
		Rate:            floatOr(r, models.KeyFundingRate, 0),
		PredictedRate:   floatOr(r, models.KeyPredictedFundingRate, nan()),
		NextFundingTime: floatOr(r, models.KeyNextFundingTime, 0),
		LastFundingTime: floatOr(r, models.KeyLastFundingTime, 0),
	}
}

func (n *Normalizer) ParseMarkPrice(r models.Record) models.MarkPrice {
	ts := floatOr(r, models.KeyTimestamp, 0)
	return models.MarkPrice{
		Symbol:    models.Symbol(r.String(models.KeySymbol)),
		Price:     floatOr(r, models.KeyMarkPrice, 0),
		Timestamp: UniformTimestamp(ts),
	}
}

func (n *Normalizer) ParseLiquidation(r models.Record) models.Liquidation {
	return models.Liquidation{
		Symbol:    models.Symbol(r.String(models.KeySymbol)),
		Side:      models.ParseSide(r.String(models.KeySide)),
		Price:     floatOr(r, models.KeyPrice, 0),
		Amount:    floatOr(r, models.KeyAmount, 0),
		Timestamp: UniformTimestamp(floatOr(r, models.KeyTimestamp, 0)),
	}
}

// ParseBalance ожидает записи вида {currency, free, used, total}.
func (n *Normalizer) ParseBalance(raw []models.Record) models.Balance {
	out := make(models.Balance, len(raw))
	for _, r := range raw {
		cur := r.String(models.KeyCurrency)
		if cur == "" {
			n.missing("balance", models.KeyCurrency, r)
			continue
		}
		free := floatOr(r, models.KeyFree, 0)
		used := floatOr(r, models.KeyUsed, 0)
		total := floatOr(r, models.KeyTotal, free+used)
		out[cur] = models.AssetBalance{Free: free, Used: used, Total: total}
	}
	return out
}
