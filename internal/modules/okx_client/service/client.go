// Package service: REST-клиент OKX v5 для торговли, рыночных данных и состояния счёта.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"
	"exchange_core/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://www.okx.com"
	exchangeName   = "okx"
)

type Options struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	// Sandboxed: демо-торговля OKX (заголовок x-simulated-trading).
	Sandboxed bool
	Timeout   time.Duration
	// TdMode для деривативов: cross или isolated. Спот всегда cash.
	TdMode string
}

type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	sandboxed bool
	tdMode    string

	norm      *normalizer.Normalizer
	contracts normalizer.ContractSource
	log       *zap.Logger
	now       func() time.Time
}

func New(opts Options, norm *normalizer.Normalizer, contracts normalizer.ContractSource, log *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TdMode == "" {
		opts.TdMode = "cross"
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		passph:    opts.Passphrase,
		sandboxed: opts.Sandboxed,
		tdMode:    opts.TdMode,
		norm:      norm,
		contracts: contracts,
		log:       log.Named("okx_rest"),
		now:       time.Now,
	}
}

// do выполняет запрос и возвращает поле data. Ненулевой код OKX превращается в okx.APIError,
// сбои транспорта и HTTP-статусы сводятся к ошибкам models.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, private bool) (_ json.RawMessage, err error) {
	span, ctx := tracing.StartSpan(ctx, exchangeName, "okx.rest "+method+" "+path)
	defer func() { tracing.Finish(span, err) }()

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = sonic.Marshal(body); err != nil {
			return nil, errors.Wrapf(err, "%s %s: marshal body", method, path)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: new request", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		if c.apiKey == "" || c.apiSecret == "" {
			return nil, errors.Wrapf(models.ErrAuthentication, "%s %s: credentials required", method, path)
		}
		ts := okx.RESTTimestamp(c.now())
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", okx.Sign(c.apiSecret, ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	if c.sandboxed {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err, method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(models.ErrNetwork, "%s %s: read body: %v", method, path, err)
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, statusError(resp.StatusCode, data, method, path)
		}
		return nil, errors.Wrapf(models.ErrParse, "%s %s: %v", method, path, err)
	}
	if env.Code != "" && env.Code != "0" {
		// у торговых запросов причина лежит в sCode строки
		var items []itemResult
		if sonic.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return nil, errors.Wrapf(okx.NewAPIError(items[0].SCode, items[0].SMsg), "%s %s", method, path)
		}
		return nil, errors.Wrapf(okx.NewAPIError(env.Code, env.Msg), "%s %s", method, path)
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp.StatusCode, data, method, path)
	}
	return env.Data, nil
}

func transportError(err error, method, path string) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errors.Wrapf(models.ErrRequestTimeout, "%s %s: %v", method, path, err)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	return errors.Wrapf(models.ErrNetwork, "%s %s: %v", method, path, err)
}

func statusError(code int, body []byte, method, path string) error {
	kind := models.ErrNetwork
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = models.ErrAuthentication
	case code == http.StatusNotFound:
		kind = models.ErrNotSupported
	case code == http.StatusBadRequest:
		kind = models.ErrInvalidOrder
	}
	return errors.Wrapf(kind, "%s %s: http %d: %s", method, path, code, string(body))
}

// decodeItems разбирает data торгового запроса и проверяет sCode первой строки.
func decodeItems(data json.RawMessage, op string) (itemResult, error) {
	var items []itemResult
	if err := sonic.Unmarshal(data, &items); err != nil {
		return itemResult{}, errors.Wrapf(models.ErrParse, "%s: %v", op, err)
	}
	if len(items) == 0 {
		return itemResult{}, errors.Wrapf(models.ErrParse, "%s: empty data", op)
	}
	it := items[0]
	if it.SCode != "" && it.SCode != "0" {
		return itemResult{}, errors.Wrap(okx.NewAPIError(it.SCode, it.SMsg), op)
	}
	return it, nil
}

// decodeObjects: data как список произвольных объектов для преобразователей okx.*Record.
func decodeObjects(data json.RawMessage, op string) ([]map[string]any, error) {
	var out []map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(models.ErrParse, "%s: %v", op, err)
	}
	return out, nil
}
