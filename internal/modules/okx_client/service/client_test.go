package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type contracts map[models.Symbol]models.Contract

func (c contracts) Contract(s models.Symbol) (models.Contract, bool) {
	ct, ok := c[s]
	return ct, ok
}

var swap = contracts{
	"BTC/USDT:USDT": {
		Symbol:       "BTC/USDT:USDT",
		ContractSize: 0.01,
		TickSize:     0.1,
		LotSize:      1,
		MinSize:      1,
		PositionMode: models.PositionOneWay,
	},
}

type captured struct {
	method, path, query string
	header              http.Header
	body                map[string]any
	list                []map[string]any
}

func newTestClient(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) (*Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path, got.query, got.header = r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			if raw[0] == '[' {
				_ = sonic.Unmarshal(raw, &got.list)
			} else {
				_ = sonic.Unmarshal(raw, &got.body)
			}
		}
		reply(w, r)
	}))
	t.Cleanup(srv.Close)

	log := zaptest.NewLogger(t)
	c := New(Options{
		BaseURL:    srv.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "pass",
		Sandboxed:  true,
		Timeout:    time.Second,
	}, normalizer.New(log, normalizer.WithContracts(swap)), swap, log)
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c, got
}

func respond(body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestCreateLimitOrderSignedAndConverted(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","msg":"","data":[{"ordId":"777","clOrdId":"abc","sCode":"0","sMsg":""}]}`))

	res, err := c.CreateOrder(context.Background(), models.Order{
		OrderID:      "0c4f-11",
		Symbol:       "BTC/USDT:USDT",
		Side:         models.SideBuy,
		Type:         models.OrderLimit,
		OriginAmount: decimal.RequireFromString("1.234"),
		OriginPrice:  decimal.RequireFromString("42000.37"),
	})
	require.NoError(t, err)
	assert.Equal(t, "777", res.ExchangeOrderID)
	assert.Equal(t, models.StatusOpen, res.Status)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, pathOrder, got.path)
	assert.Equal(t, "BTC-USDT-SWAP", got.body["instId"])
	assert.Equal(t, "123", got.body["sz"], "1.234 BTC / 0.01 rounded down to lot")
	assert.Equal(t, "42000.3", got.body["px"])
	assert.Equal(t, "cross", got.body["tdMode"])
	assert.Equal(t, "0c4f11", got.body["clOrdId"])

	ts := got.header.Get("OK-ACCESS-TIMESTAMP")
	assert.Equal(t, "2024-01-02T03:04:05.000Z", ts)
	assert.Equal(t, "key", got.header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "pass", got.header.Get("OK-ACCESS-PASSPHRASE"))
	assert.Equal(t, "1", got.header.Get("x-simulated-trading"))
	assert.NotEmpty(t, got.header.Get("OK-ACCESS-SIGN"))
}

func TestCreateStopUsesAlgoEndpoint(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[{"algoId":"a-1","sCode":"0"}]}`))

	res, err := c.CreateOrder(context.Background(), models.Order{
		OrderID:      "sl",
		Symbol:       "BTC/USDT:USDT",
		Side:         models.SideSell,
		Type:         models.OrderStopLoss,
		OriginAmount: decimal.RequireFromString("0.5"),
		StopPrice:    decimal.RequireFromString("39000.04"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a-1", res.ExchangeOrderID)
	assert.Equal(t, pathAlgoOrder, got.path)
	assert.Equal(t, "conditional", got.body["ordType"])
	assert.Equal(t, "39000.1", got.body["slTriggerPx"])
	assert.Equal(t, "-1", got.body["slOrdPx"])
	assert.Equal(t, "50", got.body["sz"])
}

func TestCreateBelowMinimumSize(t *testing.T) {
	c, _ := newTestClient(t, respond(`{"code":"0","data":[]}`))
	_, err := c.CreateOrder(context.Background(), models.Order{
		OrderID:      "x",
		Symbol:       "BTC/USDT:USDT",
		Side:         models.SideBuy,
		Type:         models.OrderMarket,
		OriginAmount: decimal.RequireFromString("0.001"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
}

func TestErrorsAreClassified(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"item code", http.StatusOK, `{"code":"1","msg":"failed","data":[{"sCode":"51008","sMsg":"insufficient"}]}`, models.ErrInsufficientFunds},
		{"top code", http.StatusOK, `{"code":"50004","msg":"timeout","data":[]}`, models.ErrRequestTimeout},
		{"unauthorized", http.StatusUnauthorized, `not json`, models.ErrAuthentication},
		{"server error", http.StatusBadGateway, `<html>`, models.ErrNetwork},
		{"bad json", http.StatusOK, `{`, models.ErrParse},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.CreateOrder(context.Background(), models.Order{
				OrderID:      "x",
				Symbol:       "BTC/USDT",
				Side:         models.SideBuy,
				Type:         models.OrderMarket,
				OriginAmount: decimal.NewFromInt(1),
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPrivateRequestNeedsCredentials(t *testing.T) {
	c, _ := newTestClient(t, respond(`{"code":"0","data":[]}`))
	c.apiKey = ""
	_, err := c.Positions(context.Background())
	assert.ErrorIs(t, err, models.ErrAuthentication)
}

func TestGetOrderNormalizesContracts(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[{
		"instId":"BTC-USDT-SWAP","ordId":"777","clOrdId":"abc","side":"buy","ordType":"limit",
		"state":"partially_filled","sz":"100","accFillSz":"40","px":"42000","avgPx":"41999.5",
		"fee":"-0.2","feeCcy":"USDT","uTime":"1704164645000"}]}`))

	o, err := c.GetOrder(context.Background(), models.Order{
		OrderID: "local", ExchangeOrderID: "777", Symbol: "BTC/USDT:USDT", Type: models.OrderLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, pathOrder, got.path)
	assert.Contains(t, got.query, "ordId=777")

	assert.Equal(t, "local", o.OrderID)
	assert.Equal(t, models.StatusPartiallyFilled, o.Status)
	assert.True(t, o.OriginAmount.Equal(decimal.NewFromInt(1)), o.OriginAmount.String())
	assert.True(t, o.FilledAmount.Equal(decimal.RequireFromString("0.4")))
	assert.True(t, o.AmountsConsistent())
	require.NotNil(t, o.Fee)
	assert.True(t, o.Fee.Cost.Equal(decimal.RequireFromString("0.2")))
	assert.InDelta(t, 1704164645.0, o.Timestamp, 1e-6)
}

func TestCancelAlgoOrder(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[{"algoId":"a-1","sCode":"0"}]}`))
	res, err := c.CancelOrder(context.Background(), models.Order{
		OrderID: "sl", ExchangeOrderID: "a-1", Symbol: "BTC/USDT:USDT", Type: models.OrderStopLoss,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingCancel, res.Status)
	assert.Equal(t, pathCancelAlgos, got.path)
	require.Len(t, got.list, 1)
	assert.Equal(t, "a-1", got.list[0]["algoId"])

	_, err = c.CancelOrder(context.Background(), models.Order{OrderID: "none"})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestEditOrder(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[{"ordId":"777","sCode":"0"}]}`))
	amount := decimal.RequireFromString("0.6")
	price := decimal.RequireFromString("41000.05")
	_, err := c.EditOrder(context.Background(), models.Order{
		OrderID: "a", ExchangeOrderID: "777", Symbol: "BTC/USDT:USDT", Side: models.SideSell, Type: models.OrderLimit,
	}, models.OrderEdit{Amount: &amount, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, pathAmendOrder, got.path)
	assert.Equal(t, "60", got.body["newSz"])
	assert.Equal(t, "41000.1", got.body["newPx"])
}

func TestInstruments(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[
		{"instId":"BTC-USDT-SWAP","tickSz":"0.1","lotSz":"1","minSz":"1","ctVal":"0.01","ctMult":"1","ctType":"linear","lever":"100","state":"live"},
		{"instId":"ETH-USD-SWAP","tickSz":"0.01","lotSz":"1","minSz":"1","ctVal":"10","ctType":"inverse","state":"live"},
		{"instId":"OLD-USDT-SWAP","tickSz":"0.1","lotSz":"1","minSz":"1","ctVal":"1","state":"suspend"}
	]}`))
	cts, err := c.Instruments(context.Background(), okx.InstSwap)
	require.NoError(t, err)
	assert.Equal(t, "instType=SWAP", got.query)
	require.Len(t, cts, 2)

	assert.Equal(t, models.Symbol("BTC/USDT:USDT"), cts[0].Symbol)
	assert.InDelta(t, 0.01, cts[0].ContractSize, 1e-12)
	assert.Equal(t, models.ContractLinear, cts[0].ContractType)
	assert.InDelta(t, 100.0, cts[0].Leverage, 1e-12)

	assert.Equal(t, models.Symbol("ETH/USD:ETH"), cts[1].Symbol)
	assert.Equal(t, models.ContractInverse, cts[1].ContractType)
}

func TestCandlesOldestFirst(t *testing.T) {
	c, got := newTestClient(t, respond(`{"code":"0","data":[
		["1700000060000","2","3","1","2.5","10","0.1","25","0"],
		["1700000000000","1","2","0.5","2","5","0.05","10","1"]
	]}`))
	recs, err := c.Candles(context.Background(), "BTC/USDT", models.TF1m, 2)
	require.NoError(t, err)
	assert.Contains(t, got.query, "bar=1m")
	require.Len(t, recs, 2)

	candles := c.norm.Candles(recs, models.TF1m)
	require.Len(t, candles, 2)
	assert.InDelta(t, 1700000000.0, candles[0].OpenTime, 1e-9)
	assert.InDelta(t, 1700000060.0, candles[1].OpenTime, 1e-9)
}

func TestBalanceAndPositionMode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathBalance:
			_, _ = io.WriteString(w, `{"code":"0","data":[{"details":[{"ccy":"USDT","availBal":"90","frozenBal":"10","eq":"100"}]}]}`)
		case pathAccountConfig:
			_, _ = io.WriteString(w, `{"code":"0","data":[{"posMode":"long_short_mode"}]}`)
		}
	})
	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 90.0, bal["USDT"].Free, 1e-9)
	assert.InDelta(t, 100.0, bal["USDT"].Total, 1e-9)

	mode, err := c.PositionMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PositionHedge, mode)
}
