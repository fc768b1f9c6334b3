package okx

import (
	_ "embed"
	"strings"
	"time"

	"exchange_core/internal/models"
	"exchange_core/internal/websocket"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

//go:embed descriptor.yaml
var descriptorYAML []byte

// Descriptor: описание фидов OKX для коннектора.
func Descriptor() (*websocket.Descriptor, error) {
	return websocket.ParseDescriptor(descriptorYAML)
}

const (
	pingMessage = "ping"
	pongMessage = "pong"
)

// Dialect реализует websocket.Dialect для OKX v5.
type Dialect struct{}

func NewDialect() *Dialect { return &Dialect{} }

func (*Dialect) Name() string { return "okx" }

func channel(sub websocket.Subscription) (string, error) {
	name := sub.Spec.Subscription
	if name == "" {
		name = string(sub.Feed)
	}
	if strings.Contains(name, "{timeframe}") {
		bar, err := Bar(sub.TimeFrame)
		if err != nil {
			return "", err
		}
		name = strings.ReplaceAll(name, "{timeframe}", bar)
	}
	return name, nil
}

func routeKey(ch, instID string) string {
	if instID == "" {
		return ch
	}
	return ch + ":" + instID
}

func (*Dialect) RouteKey(sub websocket.Subscription) string {
	ch, err := channel(sub)
	if err != nil {
		ch = sub.Spec.Subscription
	}
	if sub.Symbol == "" {
		return ch
	}
	return routeKey(ch, InstID(sub.Symbol))
}

type wsArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

func (*Dialect) SubscribeMessage(sub websocket.Subscription) ([]byte, error) {
	ch, err := channel(sub)
	if err != nil {
		return nil, err
	}
	arg := wsArg{Channel: ch}
	switch {
	case sub.Symbol != "":
		arg.InstID = InstID(sub.Symbol)
	case ch == "orders" || ch == "positions":
		arg.InstType = "ANY"
	case ch == "liquidation-orders":
		arg.InstType = InstSwap
	}
	return sonic.Marshal(wsRequest{Op: "subscribe", Args: []any{arg}})
}

func (*Dialect) LoginMessage(creds websocket.Credentials, now time.Time) ([]byte, error) {
	ts := LoginTimestamp(now)
	return sonic.Marshal(wsRequest{Op: "login", Args: []any{loginArg{
		APIKey:     creds.APIKey,
		Passphrase: creds.Password,
		Timestamp:  ts,
		Sign:       Sign(creds.APISecret, ts, "GET", verifyPath, ""),
	}}})
}

func (*Dialect) PingMessage() []byte { return []byte(pingMessage) }

type wsFrame struct {
	Event  string `json:"event"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Arg    wsArg  `json:"arg"`
	Action string `json:"action"`
	Data   []any  `json:"data"`
}

func (d *Dialect) Parse(frame []byte) ([]websocket.Message, error) {
	if string(frame) == pongMessage {
		return []websocket.Message{{Kind: websocket.MessagePong}}, nil
	}
	var f wsFrame
	if err := sonic.Unmarshal(frame, &f); err != nil {
		return nil, errors.Wrap(models.ErrParse, err.Error())
	}
	route := routeKey(f.Arg.Channel, f.Arg.InstID)

	switch f.Event {
	case "subscribe":
		return []websocket.Message{{Kind: websocket.MessageSubscribed, Route: route}}, nil
	case "login":
		if f.Code != "" && f.Code != "0" {
			return []websocket.Message{{Kind: websocket.MessageError, Err: eventError(f)}}, nil
		}
		return []websocket.Message{{Kind: websocket.MessageLogin}}, nil
	case "error":
		return []websocket.Message{{Kind: websocket.MessageError, Route: route, Err: eventError(f)}}, nil
	case "":
	default:
		// unsubscribe, notice, channel-conn-count
		return nil, nil
	}
	if f.Arg.Channel == "" {
		return nil, nil
	}
	recs := records(f)
	return []websocket.Message{{Kind: websocket.MessageData, Route: route, Records: recs}}, nil
}

func eventError(f wsFrame) error {
	kind := websocket.KindBadRequest
	cause := ClassifyCode(f.Code)
	if cause == nil {
		cause = errors.New(f.Msg)
	} else if k := websocket.Classify(cause); k != websocket.KindUnknown {
		kind = k
	}
	return &websocket.Error{Kind: kind, Code: f.Code, Err: errors.Wrap(cause, f.Msg)}
}

func records(f wsFrame) []models.Record {
	ch := f.Arg.Channel
	if strings.HasPrefix(ch, "candle") {
		return CandleRecords(f.Arg.InstID, f.Data)
	}
	var out []models.Record
	for _, item := range f.Data {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch ch {
		case "tickers":
			out = append(out, TickerRecord(m))
		case "books", "books5", "books50-l2-tbt", "books-l2-tbt":
			out = append(out, BookRecord(f.Arg.InstID, f.Action, m))
		case "bbo-tbt":
			out = append(out, BookTickerRecord(f.Arg.InstID, m))
		case "trades":
			out = append(out, TradeRecord(m))
		case "funding-rate":
			out = append(out, FundingRecord(m))
		case "mark-price":
			out = append(out, MarkPriceRecord(m))
		case "liquidation-orders":
			out = append(out, LiquidationRecords(m)...)
		case "orders":
			out = append(out, OrderRecord(m))
		case "positions":
			out = append(out, PositionRecord(m))
		case "account":
			out = append(out, BalanceRecords(m)...)
		}
	}
	return out
}
