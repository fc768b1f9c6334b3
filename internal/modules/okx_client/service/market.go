package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pathInstruments = "/api/v5/public/instruments"
	pathCandles     = "/api/v5/market/candles"
	pathTicker      = "/api/v5/market/ticker"
)

// Instruments загружает торговые правила инструментов instType (SPOT, SWAP, FUTURES).
// Неактивные и нераспознанные инструменты пропускаются.
func (c *Client) Instruments(ctx context.Context, instType string) ([]models.Contract, error) {
	q := url.Values{"instType": {instType}}
	data, err := c.do(ctx, http.MethodGet, pathInstruments, q, nil, false)
	if err != nil {
		return nil, err
	}
	var insts []Instrument
	if err := sonic.Unmarshal(data, &insts); err != nil {
		return nil, errors.Wrapf(models.ErrParse, "instruments: %v", err)
	}
	out := make([]models.Contract, 0, len(insts))
	for _, inst := range insts {
		ct, err := c.contractOf(inst)
		if err != nil {
			c.log.Debug("instrument skipped", zap.String("inst_id", inst.InstID), zap.Error(err))
			continue
		}
		out = append(out, ct)
	}
	return out, nil
}

func (c *Client) contractOf(inst Instrument) (models.Contract, error) {
	if inst.State != "" && inst.State != "live" {
		return models.Contract{}, errors.Errorf("instrument %s not live: state=%s", inst.InstID, inst.State)
	}
	symbol, err := okx.Symbol(inst.InstID)
	if err != nil {
		return models.Contract{}, err
	}

	parsePos := func(name, s string) (float64, error) {
		if s == "" {
			return 0, errors.Errorf("%s empty", name)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return 0, errors.Errorf("%s parse: %v (%q)", name, err, s)
		}
		return v, nil
	}

	lotSz, err := parsePos("lotSz", inst.LotSz)
	if err != nil {
		return models.Contract{}, err
	}
	minSz, err := parsePos("minSz", inst.MinSz)
	if err != nil {
		return models.Contract{}, err
	}
	tickSz, err := parsePos("tickSz", inst.TickSz)
	if err != nil {
		return models.Contract{}, err
	}

	ct := models.Contract{
		Symbol:       symbol,
		TickSize:     tickSz,
		LotSize:      lotSz,
		MinSize:      minSz,
		MarginType:   models.MarginType(c.tdMode),
		PositionMode: models.PositionOneWay,
	}
	if !symbol.IsFuture() {
		return ct, nil
	}

	ctVal, err := parsePos("ctVal", inst.CtVal)
	if err != nil {
		return models.Contract{}, err
	}
	ctMult := 1.0
	if inst.CtMult != "" {
		if v, e := strconv.ParseFloat(inst.CtMult, 64); e == nil && v > 0 {
			ctMult = v
		}
	}
	ct.ContractSize = ctVal * ctMult
	if lev, e := strconv.ParseFloat(inst.Lever, 64); e == nil && lev > 0 {
		ct.Leverage = lev
	}
	switch strings.ToLower(strings.TrimSpace(inst.CtType)) {
	case "inverse":
		ct.ContractType = models.ContractInverse
	default:
		ct.ContractType = models.ContractLinear
	}
	return ct, nil
}

// Candles: последние limit свечей от старой к новой, сырыми записями для нормализатора.
func (c *Client) Candles(ctx context.Context, symbol models.Symbol, tf models.TimeFrame, limit int) ([]models.Record, error) {
	bar, err := okx.Bar(tf)
	if err != nil {
		return nil, err
	}
	instID := okx.InstID(symbol)
	q := url.Values{"instId": {instID}, "bar": {bar}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	data, err := c.do(ctx, http.MethodGet, pathCandles, q, nil, false)
	if err != nil {
		return nil, err
	}
	var rows []any
	if err := sonic.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrapf(models.ErrParse, "candles %s: %v", instID, err)
	}
	// OKX отдаёт от новой к старой
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return okx.CandleRecords(instID, rows), nil
}

func (c *Client) Ticker(ctx context.Context, symbol models.Symbol) (models.Ticker, error) {
	q := url.Values{"instId": {okx.InstID(symbol)}}
	data, err := c.do(ctx, http.MethodGet, pathTicker, q, nil, false)
	if err != nil {
		return models.Ticker{}, err
	}
	objs, err := decodeObjects(data, "ticker")
	if err != nil {
		return models.Ticker{}, err
	}
	if len(objs) == 0 {
		return models.Ticker{}, errors.Wrapf(models.ErrNotSupported, "ticker %s: empty", symbol)
	}
	return c.norm.ParseTicker(c.norm.FixTicker(okx.TickerRecord(objs[0]))), nil
}
