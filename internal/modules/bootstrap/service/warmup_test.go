package service

import (
	"context"
	"sync"
	"testing"

	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	limits []int
	fail   models.Symbol
}

func (f *fakeSource) Candles(_ context.Context, symbol models.Symbol, tf models.TimeFrame, limit int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[string(symbol)+"|"+string(tf)]++
	f.limits = append(f.limits, limit)
	if symbol == f.fail {
		return nil, errors.Wrap(models.ErrNetwork, "boom")
	}
	return []models.Record{
		{models.KeyTimestamp: 1700000040000.0, models.KeyOpen: 1.0, models.KeyHigh: 2.0, models.KeyLow: 0.5, models.KeyClose: 1.5, models.KeyVolume: 1.0},
		{models.KeyTimestamp: 1700000100000.0, models.KeyOpen: 1.5, models.KeyHigh: 2.0, models.KeyLow: 1.0, models.KeyClose: 1.8, models.KeyVolume: 2.0},
	}, nil
}

type recordingReporter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingReporter) Sendf(format string, _ ...any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, format)
	r.mu.Unlock()
}

func TestWarmupLoadsEverySeries(t *testing.T) {
	src := &fakeSource{}
	store := NewCandleStore(0)
	rep := &recordingReporter{}
	w := NewWarmuper(src, normalizer.New(zaptest.NewLogger(t)), store, WarmupConfig{Limit: 50, Parallelism: 2}, zaptest.NewLogger(t)).
		WithReporter(rep)

	symbols := []models.Symbol{"BTC/USDT", "ETH/USDT"}
	tfs := []models.TimeFrame{models.TF1m, models.TF5m}
	require.NoError(t, w.Warmup(context.Background(), symbols, tfs))

	for _, s := range symbols {
		for _, tf := range tfs {
			assert.True(t, store.Initialized(s, tf), "%s %s", s, tf)
			assert.Equal(t, 1, src.calls[string(s)+"|"+string(tf)])
		}
	}
	assert.Len(t, store.Candles("BTC/USDT", models.TF1m), 2)
	for _, l := range src.limits {
		assert.Equal(t, 50, l)
	}
	assert.Len(t, rep.msgs, 2)
}

func TestWarmupKeepsGoingAfterFailure(t *testing.T) {
	src := &fakeSource{fail: "ETH/USDT"}
	store := NewCandleStore(0)
	w := NewWarmuper(src, normalizer.New(zaptest.NewLogger(t)), store, WarmupConfig{}, zaptest.NewLogger(t))

	err := w.Warmup(context.Background(), []models.Symbol{"BTC/USDT", "ETH/USDT"}, []models.TimeFrame{models.TF1m})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNetwork)
	assert.True(t, store.Initialized("BTC/USDT", models.TF1m))
	assert.False(t, store.Initialized("ETH/USDT", models.TF1m))
}

func TestWarmupCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{}
	w := NewWarmuper(src, normalizer.New(zaptest.NewLogger(t)), NewCandleStore(0), WarmupConfig{}, zaptest.NewLogger(t))

	err := w.Warmup(ctx, []models.Symbol{"BTC/USDT"}, []models.TimeFrame{models.TF1m})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}

func TestCandleStoreUpsert(t *testing.T) {
	s := NewCandleStore(3)
	assert.False(t, s.Initialized("BTC/USDT", models.TF1m))

	assert.False(t, s.Upsert("BTC/USDT", models.TF1m, models.Candle{OpenTime: 120, Close: 1}))
	assert.False(t, s.Upsert("BTC/USDT", models.TF1m, models.Candle{OpenTime: 60, Close: 2}))
	assert.True(t, s.Upsert("BTC/USDT", models.TF1m, models.Candle{OpenTime: 120, Close: 3}))
	assert.False(t, s.Initialized("BTC/USDT", models.TF1m))

	s.Load("BTC/USDT", models.TF1m, []models.Candle{{OpenTime: 0}, {OpenTime: 180}})
	assert.True(t, s.Initialized("BTC/USDT", models.TF1m))

	got := s.Candles("BTC/USDT", models.TF1m)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{60, 120, 180}, []float64{got[0].OpenTime, got[1].OpenTime, got[2].OpenTime})
	assert.Equal(t, 3.0, got[1].Close)

	s.Forget("BTC/USDT")
	assert.Empty(t, s.Candles("BTC/USDT", models.TF1m))
}
