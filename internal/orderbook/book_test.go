package orderbook

import (
	"math/rand"
	"sync"
	"testing"

	"exchange_core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(side models.BookSide, price, size float64) models.BookLevel {
	return models.BookLevel{Price: price, Size: size, Side: side}
}

func requireInvariants(t *testing.T, v models.BookView) {
	t.Helper()
	for i := 1; i < len(v.Bids); i++ {
		require.Greater(t, v.Bids[i-1].Price, v.Bids[i].Price, "bids must be descending")
	}
	for i := 1; i < len(v.Asks); i++ {
		require.Less(t, v.Asks[i-1].Price, v.Asks[i].Price, "asks must be ascending")
	}
	for _, l := range append(append([]models.BookLevel{}, v.Bids...), v.Asks...) {
		require.Greater(t, l.Size, 0.0)
	}
	if len(v.Bids) > 0 && len(v.Asks) > 0 {
		require.Less(t, v.Bids[0].Price, v.Asks[0].Price, "book must not be crossed")
	}
}

func TestApplySnapshotSortsAndDedupes(t *testing.T) {
	b := NewBook("BTC/USDT")
	b.ApplySnapshot(
		[]models.BookLevel{lvl(models.Bids, 99, 1), lvl(models.Bids, 100, 2), lvl(models.Bids, 98, 0), lvl(models.Bids, 100, 3)},
		[]models.BookLevel{lvl(models.Asks, 103, 1), lvl(models.Asks, 101, 1), lvl(models.Asks, 102, -1)},
		10,
	)
	v := b.Snapshot(0)
	requireInvariants(t, v)
	assert.Equal(t, []models.BookLevel{lvl(models.Bids, 100, 3), lvl(models.Bids, 99, 1)}, v.Bids)
	assert.Equal(t, []models.BookLevel{lvl(models.Asks, 101, 1), lvl(models.Asks, 103, 1)}, v.Asks)
	assert.Equal(t, 10.0, v.Timestamp)
}

func TestSnapshotKeepsBidsWhenCrossed(t *testing.T) {
	b := NewBook("BTC/USDT")
	b.ApplySnapshot(
		[]models.BookLevel{lvl(models.Bids, 101, 1), lvl(models.Bids, 100, 1)},
		[]models.BookLevel{lvl(models.Asks, 100.5, 1), lvl(models.Asks, 102, 1)},
		1,
	)
	bid, ask := b.Best()
	assert.Equal(t, 101.0, bid.Price)
	assert.Equal(t, 102.0, ask.Price)
}

func TestApplyDelta(t *testing.T) {
	b := NewBook("BTC/USDT")
	b.ApplySnapshot([]models.BookLevel{lvl(models.Bids, 100, 1)}, []models.BookLevel{lvl(models.Asks, 101, 1)}, 1)

	b.ApplyDelta([]models.BookDelta{
		{Side: models.Bids, Price: 99.5, Size: 2},
		{Side: models.Bids, Price: 100, Size: 0},
		{Side: models.Asks, Price: 101, Size: 4},
		{Side: models.Asks, Price: 105, Size: -3},
	}, 2)

	v := b.Snapshot(0)
	requireInvariants(t, v)
	assert.Equal(t, []models.BookLevel{lvl(models.Bids, 99.5, 2)}, v.Bids)
	assert.Equal(t, []models.BookLevel{lvl(models.Asks, 101, 4)}, v.Asks)
}

func TestApplyDeltaPrunesStaleSide(t *testing.T) {
	b := NewBook("BTC/USDT")
	b.ApplySnapshot(
		[]models.BookLevel{lvl(models.Bids, 100, 1)},
		[]models.BookLevel{lvl(models.Asks, 101, 1), lvl(models.Asks, 102, 1), lvl(models.Asks, 104, 1)},
		1,
	)
	// новая заявка на покупку по 103 делает 101 и 102 устаревшими
	b.ApplyDelta([]models.BookDelta{{Side: models.Bids, Price: 103, Size: 1}}, 2)

	v := b.Snapshot(0)
	requireInvariants(t, v)
	assert.Equal(t, 103.0, v.Bids[0].Price)
	assert.Equal(t, []models.BookLevel{lvl(models.Asks, 104, 1)}, v.Asks)
}

func TestSnapshotDepth(t *testing.T) {
	b := NewBook("BTC/USDT")
	b.ApplySnapshot(
		[]models.BookLevel{lvl(models.Bids, 100, 1), lvl(models.Bids, 99, 1), lvl(models.Bids, 98, 1)},
		[]models.BookLevel{lvl(models.Asks, 101, 1)},
		1,
	)
	v := b.Snapshot(2)
	assert.Len(t, v.Bids, 2)
	assert.Len(t, v.Asks, 1)

	// снимок не должен меняться после новых записей
	b.ApplyDelta([]models.BookDelta{{Side: models.Bids, Price: 100, Size: 0}}, 2)
	assert.Equal(t, 100.0, v.Bids[0].Price)
}

func TestRandomDeltasKeepInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	b := NewBook("ETH/USDT")
	for i := 0; i < 2000; i++ {
		n := 1 + rnd.Intn(5)
		updates := make([]models.BookDelta, 0, n)
		for j := 0; j < n; j++ {
			side := models.Bids
			if rnd.Intn(2) == 0 {
				side = models.Asks
			}
			size := float64(rnd.Intn(4))
			if rnd.Intn(10) == 0 {
				size = -1
			}
			updates = append(updates, models.BookDelta{
				Side:  side,
				Price: float64(90 + rnd.Intn(20)),
				Size:  size,
			})
		}
		b.ApplyDelta(updates, float64(i))
		requireInvariants(t, b.Snapshot(0))
	}
}

func TestConcurrentReaders(t *testing.T) {
	b := NewBook("BTC/USDT")
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					v := b.Snapshot(5)
					if len(v.Bids) > 0 && len(v.Asks) > 0 && v.Bids[0].Price >= v.Asks[0].Price {
						t.Error("crossed snapshot observed")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		p := float64(100 + i%10)
		b.ApplyDelta([]models.BookDelta{
			{Side: models.Bids, Price: p, Size: 1},
			{Side: models.Asks, Price: p + 1, Size: 1},
		}, float64(i))
	}
	close(stop)
	wg.Wait()
}

func TestStore(t *testing.T) {
	s := NewStore()
	b := s.Book("BTC/USDT")
	assert.Same(t, b, s.Book("BTC/USDT"))
	_, ok := s.Get("ETH/USDT")
	assert.False(t, ok)
	s.Remove("BTC/USDT")
	assert.Empty(t, s.Symbols())
}
