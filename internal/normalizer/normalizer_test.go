package normalizer

import (
	"math"
	"testing"
	"time"

	"exchange_core/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type contracts map[models.Symbol]models.Contract

func (c contracts) Contract(s models.Symbol) (models.Contract, bool) {
	v, ok := c[s]
	return v, ok
}

func newNormalizer(t *testing.T, opts ...Option) *Normalizer {
	return New(zaptest.NewLogger(t), opts...)
}

func TestUniformTimestamp(t *testing.T) {
	assert.Equal(t, 1700000000.0, UniformTimestamp(1700000000000))
	assert.Equal(t, 1700000000.5, UniformTimestamp(1700000000500))
	assert.Equal(t, 1700000000.0, UniformTimestamp(1700000000))
}

func TestFixCandlesAlignsAndDropsIncomplete(t *testing.T) {
	n := newNormalizer(t, DropIncompleteCandles(true))
	raw := []models.Record{
		{models.KeyTimestamp: "1700000070000", models.KeyOpen: "1", models.KeyHigh: "2", models.KeyLow: "0.5", models.KeyClose: "1.5", models.KeyVolume: "10", models.KeyConfirmed: "1"},
		{models.KeyTimestamp: 1700000100000.0, models.KeyOpen: 1.5, models.KeyHigh: 2.0, models.KeyLow: 1.0, models.KeyClose: 1.8, models.KeyVolume: 3.0, models.KeyConfirmed: false},
	}
	candles := n.Candles(raw, models.TF1m)
	require.Len(t, candles, 1)
	assert.Equal(t, 1700000040.0, candles[0].OpenTime)
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, 10.0, candles[0].Volume)

	keep := newNormalizer(t)
	assert.Len(t, keep.Candles(raw, models.TF1m), 2)
}

func TestFixCandlesSkipsMissingTimestamp(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := New(zap.New(core))
	out := n.FixCandles([]models.Record{{models.KeyOpen: 1.0}}, models.TF1m)
	assert.Empty(t, out)
	assert.Equal(t, 1, logs.Len())
}

func TestOrderAmountFromCost(t *testing.T) {
	n := newNormalizer(t)
	o := n.Order(models.Record{
		models.KeyID:     "1",
		models.KeySymbol: "BTC/USDT",
		models.KeySide:   "sell",
		models.KeyType:   "limit",
		models.KeyStatus: "open",
		models.KeyPrice:  "50000",
		models.KeyCost:   "25000",
	})
	assert.True(t, o.OriginAmount.Equal(decimal.RequireFromString("0.5")), o.OriginAmount.String())
	assert.True(t, o.AmountsConsistent())
}

func TestMarketBuyPrefersFilled(t *testing.T) {
	n := newNormalizer(t)
	o := n.Order(models.Record{
		models.KeyID:     "1",
		models.KeySymbol: "BTC/USDT",
		models.KeySide:   "buy",
		models.KeyType:   "market",
		models.KeyStatus: "closed",
		models.KeyAmount: "1000",
		models.KeyFilled: "0.02",
	})
	assert.Equal(t, "0.02", o.OriginAmount.String())
	assert.True(t, o.RemainingAmount.IsZero())
}

func TestOrderContractSizeAndFee(t *testing.T) {
	n := newNormalizer(t, WithContracts(contracts{
		"BTC/USDT:USDT": {Symbol: "BTC/USDT:USDT", ContractSize: 0.01},
	}))
	o := n.Order(models.Record{
		models.KeyID:     "9",
		models.KeySymbol: "BTC/USDT:USDT",
		models.KeySide:   "buy",
		models.KeyType:   "limit",
		models.KeyStatus: "partially_filled",
		models.KeyPrice:  "40000",
		models.KeyAmount: "10",
		models.KeyFilled: "4",
		models.KeyFee:    map[string]any{"cost": "0.5", "currency": "USDT"},
	})
	assert.Equal(t, "0.1", o.OriginAmount.String())
	assert.Equal(t, "0.04", o.FilledAmount.String())
	assert.Equal(t, "0.06", o.RemainingAmount.String())
	require.NotNil(t, o.Fee)
	assert.True(t, o.Fee.IsFromExchange)
	assert.Equal(t, "0.5", o.Fee.OriginalCost.String())
	assert.Equal(t, "USDT", o.Fee.Currency)
}

func TestBookTimestampDefaultsToNow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n := newNormalizer(t, WithClock(func() time.Time { return now }))
	view := n.ParseBook(n.FixBook(models.Record{
		models.KeySymbol: "BTC/USDT",
		models.KeyBids:   []any{[]any{"100", "1", "0", "2"}},
		models.KeyAsks:   []any{[]any{"101", "2"}},
	}))
	assert.Equal(t, 1700000000.0, view.Timestamp)
	require.Len(t, view.Bids, 1)
	assert.Equal(t, models.BookLevel{Price: 100, Size: 1, Side: models.Bids}, view.Bids[0])
}

func TestZeroPosition(t *testing.T) {
	n := newNormalizer(t, WithContracts(contracts{
		"ETH/USDT:USDT": {ContractSize: 0.1, Leverage: 10, MarginType: models.MarginCross},
	}))
	p := n.Position(models.Record{
		models.KeySymbol:           "ETH/USDT:USDT",
		models.KeyContracts:        "0",
		models.KeyEntryPrice:       "2000",
		models.KeyUnrealizedPnl:    "3",
		models.KeyLiquidationPrice: "1500",
	})
	assert.True(t, p.Idle())
	assert.True(t, math.IsNaN(p.LiquidationPrice))
	assert.Zero(t, p.EntryPrice)
	assert.Zero(t, p.UnrealizedPnl)
	assert.Equal(t, 10.0, p.Leverage)
	assert.Equal(t, models.MarginCross, p.MarginType)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newNormalizer(t, WithContracts(contracts{
		"BTC/USDT:USDT": {ContractSize: 0.01, Leverage: 5},
	}))

	t.Run("candle", func(t *testing.T) {
		first := n.Candles([]models.Record{{
			models.KeyTimestamp: 1700000030000.0, models.KeyOpen: "1", models.KeyHigh: "3",
			models.KeyLow: "1", models.KeyClose: "2", models.KeyVolume: "5",
		}}, models.TF1m)
		require.Len(t, first, 1)
		second := n.Candles([]models.Record{first[0].Record()}, models.TF1m)
		assert.Equal(t, first, second)
	})

	t.Run("ticker", func(t *testing.T) {
		first := n.ParseTicker(n.FixTicker(models.Record{
			models.KeySymbol: "BTC/USDT", models.KeyTimestamp: "1700000000000", models.KeyLast: "10",
		}))
		second := n.ParseTicker(n.FixTicker(first.Record()))
		assert.Equal(t, first.Record(), second.Record())
		assert.True(t, math.IsNaN(second.Bid))
	})

	t.Run("book", func(t *testing.T) {
		first := n.ParseBook(n.FixBook(models.Record{
			models.KeySymbol: "BTC/USDT", models.KeyTimestamp: 1700000000000.0,
			models.KeyBids: [][]string{{"1", "2"}}, models.KeyAsks: [][]string{{"3", "4"}},
		}))
		second := n.ParseBook(n.FixBook(first.Record()))
		assert.Equal(t, first, second)
	})

	t.Run("order", func(t *testing.T) {
		first := n.Order(models.Record{
			models.KeyID: "1", models.KeyClientOrderID: "c1", models.KeySymbol: "BTC/USDT:USDT",
			models.KeySide: "sell", models.KeyType: "limit", models.KeyStatus: "open",
			models.KeyPrice: "30000", models.KeyAmount: "3", models.KeyFilled: "1",
			models.KeyFee: map[string]any{"cost": "0.1", "currency": "USDT"},
		})
		second := n.Order(first.Record())
		assert.Equal(t, first.Record(), second.Record())
		assert.Equal(t, "0.03", second.OriginAmount.String())
	})

	t.Run("position", func(t *testing.T) {
		first := n.Position(models.Record{
			models.KeySymbol: "BTC/USDT:USDT", models.KeyContracts: "2", models.KeyEntryPrice: "30000",
		})
		second := n.Position(first.Record())
		assert.Equal(t, first.Record(), second.Record())
		assert.Equal(t, 0.02, second.Size)
	})
}

func TestParseBalance(t *testing.T) {
	n := newNormalizer(t)
	b := n.ParseBalance([]models.Record{
		{models.KeyCurrency: "USDT", models.KeyFree: "10", models.KeyUsed: "5"},
		{models.KeyFree: "1"},
	})
	require.Len(t, b, 1)
	assert.Equal(t, models.AssetBalance{Free: 10, Used: 5, Total: 15}, b["USDT"])
}
