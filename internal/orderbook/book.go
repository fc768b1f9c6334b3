// Package orderbook хранит стаканы по символам. Запись сериализована мьютексом,
// чтение идёт без блокировок по неизменяемому снимку.
package orderbook

import (
	"sort"
	"sync"
	"sync/atomic"

	"exchange_core/internal/models"
)

type Book struct {
	symbol models.Symbol

	mu   sync.Mutex
	bids []models.BookLevel // по убыванию цены
	asks []models.BookLevel // по возрастанию цены

	view atomic.Pointer[models.BookView]
}

func NewBook(symbol models.Symbol) *Book {
	b := &Book{symbol: symbol}
	b.view.Store(&models.BookView{Symbol: symbol})
	return b
}

func (b *Book) Symbol() models.Symbol { return b.symbol }

// ApplySnapshot полностью заменяет стакан. При пересечении сохраняются bids.
func (b *Book) ApplySnapshot(bids, asks []models.BookLevel, ts float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = buildSide(bids, models.Bids)
	b.asks = buildSide(asks, models.Asks)
	for crossed(b.bids, b.asks) {
		b.asks = b.asks[1:]
	}
	b.publish(ts)
}

// ApplyDelta применяет изменения уровней: нулевой объём удаляет уровень, отрицательный игнорируется.
// Пересечение устраняется удалением устаревших уровней стороны, которую пакет не трогал.
func (b *Book) ApplyDelta(updates []models.BookDelta, ts float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	touchedBids := make(map[float64]struct{})
	touchedAsks := make(map[float64]struct{})
	for _, u := range updates {
		if u.Size < 0 || u.Price <= 0 {
			continue
		}
		switch u.Side {
		case models.Bids:
			b.bids = upsert(b.bids, u, descending)
			touchedBids[u.Price] = struct{}{}
		case models.Asks:
			b.asks = upsert(b.asks, u, ascending)
			touchedAsks[u.Price] = struct{}{}
		}
	}

	for crossed(b.bids, b.asks) {
		_, askFresh := touchedAsks[b.asks[0].Price]
		_, bidFresh := touchedBids[b.bids[0].Price]
		switch {
		case !askFresh:
			b.asks = b.asks[1:]
		case !bidFresh:
			b.bids = b.bids[1:]
		default:
			// обе стороны свежие: доверяем последнему обновлению в пакете
			if lastSide(updates) == models.Bids {
				b.asks = b.asks[1:]
			} else {
				b.bids = b.bids[1:]
			}
		}
	}
	b.publish(ts)
}

// Best возвращает лучшие уровни; пустая сторона даёт нулевой BookLevel.
func (b *Book) Best() (bid, ask models.BookLevel) {
	v := b.view.Load()
	if len(v.Bids) > 0 {
		bid = v.Bids[0]
	}
	if len(v.Asks) > 0 {
		ask = v.Asks[0]
	}
	return bid, ask
}

// Snapshot отдаёт копию стакана; maxDepth <= 0 означает весь стакан.
func (b *Book) Snapshot(maxDepth int) models.BookView {
	v := b.view.Load()
	out := models.BookView{Symbol: v.Symbol, Timestamp: v.Timestamp}
	out.Bids = clip(v.Bids, maxDepth)
	out.Asks = clip(v.Asks, maxDepth)
	return out
}

func (b *Book) publish(ts float64) {
	view := &models.BookView{
		Symbol:    b.symbol,
		Bids:      append([]models.BookLevel(nil), b.bids...),
		Asks:      append([]models.BookLevel(nil), b.asks...),
		Timestamp: ts,
	}
	b.view.Store(view)
}

func clip(levels []models.BookLevel, depth int) []models.BookLevel {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return append([]models.BookLevel(nil), levels...)
}

func ascending(a, b float64) bool  { return a < b }
func descending(a, b float64) bool { return a > b }

func buildSide(in []models.BookLevel, side models.BookSide) []models.BookLevel {
	less := ascending
	if side == models.Bids {
		less = descending
	}
	byPrice := make(map[float64]float64, len(in))
	for _, l := range in {
		if l.Price <= 0 || l.Size < 0 {
			continue
		}
		byPrice[l.Price] = l.Size
	}
	out := make([]models.BookLevel, 0, len(byPrice))
	for p, s := range byPrice {
		if s == 0 {
			continue
		}
		out = append(out, models.BookLevel{Price: p, Size: s, Side: side})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

func upsert(levels []models.BookLevel, u models.BookDelta, less func(a, b float64) bool) []models.BookLevel {
	i := sort.Search(len(levels), func(i int) bool { return !less(levels[i].Price, u.Price) })
	found := i < len(levels) && levels[i].Price == u.Price
	switch {
	case u.Size == 0 && found:
		return append(levels[:i], levels[i+1:]...)
	case u.Size == 0:
		return levels
	case found:
		levels[i].Size = u.Size
		return levels
	}
	levels = append(levels, models.BookLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = models.BookLevel{Price: u.Price, Size: u.Size, Side: u.Side}
	return levels
}

func crossed(bids, asks []models.BookLevel) bool {
	return len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price
}

func lastSide(updates []models.BookDelta) models.BookSide {
	for i := len(updates) - 1; i >= 0; i-- {
		if updates[i].Size > 0 {
			return updates[i].Side
		}
	}
	return models.Bids
}
