package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exchange_core/internal/models"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type echoDialect struct{}

type echoFrame struct {
	Op      string           `json:"op,omitempty"`
	Event   string           `json:"event,omitempty"`
	Channel string           `json:"channel,omitempty"`
	Code    string           `json:"code,omitempty"`
	Data    []map[string]any `json:"data,omitempty"`
}

func (echoDialect) Name() string { return "echo" }
func (echoDialect) RouteKey(sub Subscription) string {
	return string(sub.Feed) + ":" + string(sub.Symbol)
}
func (echoDialect) PingMessage() []byte { return []byte("ping") }

func (d echoDialect) SubscribeMessage(sub Subscription) ([]byte, error) {
	return sonic.Marshal(echoFrame{Op: "subscribe", Channel: d.RouteKey(sub)})
}

func (echoDialect) LoginMessage(creds Credentials, _ time.Time) ([]byte, error) {
	return sonic.Marshal(echoFrame{Op: "login", Channel: creds.APIKey})
}

func (echoDialect) Parse(frame []byte) ([]Message, error) {
	if string(frame) == "pong" {
		return []Message{{Kind: MessagePong}}, nil
	}
	var f echoFrame
	if err := sonic.Unmarshal(frame, &f); err != nil {
		return nil, err
	}
	switch f.Event {
	case "subscribe":
		return []Message{{Kind: MessageSubscribed, Route: f.Channel}}, nil
	case "login":
		return []Message{{Kind: MessageLogin}}, nil
	case "error":
		kind := KindBadRequest
		if f.Code == "60018" {
			kind = KindNotSupported
		}
		return []Message{{Kind: MessageError, Err: &Error{Kind: kind, Code: f.Code, Err: errors.New("rejected")}}}, nil
	}
	recs := make([]models.Record, 0, len(f.Data))
	for _, d := range f.Data {
		recs = append(recs, models.Record(d))
	}
	return []Message{{Kind: MessageData, Route: f.Channel, Records: recs}}, nil
}

// echoServer подтверждает подписки и шлёт по одному обновлению на канал.
func echoServer(t *testing.T, reject map[string]string) *httptest.Server {
	t.Helper()
	up := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				_ = conn.WriteMessage(gws.TextMessage, []byte("pong"))
				continue
			}
			var f echoFrame
			if err := sonic.Unmarshal(msg, &f); err != nil {
				return
			}
			if f.Op == "login" {
				reply, _ := sonic.Marshal(echoFrame{Event: "login"})
				_ = conn.WriteMessage(gws.TextMessage, reply)
				continue
			}
			if code, ok := reject[f.Channel]; ok {
				reply, _ := sonic.Marshal(echoFrame{Event: "error", Code: code})
				_ = conn.WriteMessage(gws.TextMessage, reply)
				continue
			}
			ack, _ := sonic.Marshal(echoFrame{Event: "subscribe", Channel: f.Channel})
			_ = conn.WriteMessage(gws.TextMessage, ack)
			data, _ := sonic.Marshal(echoFrame{Channel: f.Channel, Data: []map[string]any{{"last": "42"}}})
			_ = conn.WriteMessage(gws.TextMessage, data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWSClient(t *testing.T, srv *httptest.Server, creds Credentials) *WSClient {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSClient(echoDialect{}, func(Subscription) string { return url }, creds,
		zaptest.NewLogger(t), WithAckTimeout(time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWSClientSubscribesAndDelivers(t *testing.T) {
	srv := echoServer(t, nil)
	c := newTestWSClient(t, srv, Credentials{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recs, err := c.Watch(ctx, Subscription{Feed: FeedTicker, Symbol: "BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "42", recs[0]["last"])

	recs, err = c.Watch(ctx, Subscription{Feed: FeedTrades, Symbol: "BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, c.snapshot(), 1, "one connection per endpoint")
	assert.NoError(t, c.Ping(ctx))
}

func TestWSClientRejectedSubscription(t *testing.T) {
	srv := echoServer(t, map[string]string{"ticker:BAD/USDT": "60012", "ticker:NOPE/USDT": "60018"})
	c := newTestWSClient(t, srv, Credentials{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Watch(ctx, Subscription{Feed: FeedTicker, Symbol: "BAD/USDT"})
	assert.Equal(t, KindBadRequest, Classify(err))

	_, err = c.Watch(ctx, Subscription{Feed: FeedTicker, Symbol: "NOPE/USDT"})
	assert.Equal(t, KindNotSupported, Classify(err))
}

func TestWSClientPrivateFeedNeedsCredentials(t *testing.T) {
	srv := echoServer(t, nil)
	sub := Subscription{Feed: FeedOrders, Spec: FeedSpec{Private: true}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := newTestWSClient(t, srv, Credentials{}).Watch(ctx, sub)
	assert.ErrorIs(t, err, models.ErrAuthentication)

	recs, err := newTestWSClient(t, srv, Credentials{APIKey: "k", APISecret: "s"}).Watch(ctx, sub)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWSClientReconnectInterruptsWatch(t *testing.T) {
	srv := echoServer(t, nil)
	c := newTestWSClient(t, srv, Credentials{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := Subscription{Feed: FeedTicker, Symbol: "BTC/USDT"}
	_, err := c.Watch(ctx, sub)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Watch(ctx, sub)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Reconnect())

	select {
	case err := <-errCh:
		assert.Equal(t, KindClosedByUser, Classify(err))
	case <-ctx.Done():
		t.Fatal("watch was not interrupted")
	}

	recs, err := c.Watch(ctx, sub)
	require.NoError(t, err, "next watch reconnects")
	assert.Len(t, recs, 1)

	require.NoError(t, c.Close())
	_, err = c.Watch(ctx, sub)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.Wrap(models.ErrRequestTimeout, "fetch"), KindTimeout},
		{models.ErrAuthentication, KindBadRequest},
		{models.ErrNotSupported, KindNotSupported},
		{models.ErrNetwork, KindNetwork},
		{&gws.CloseError{Code: gws.CloseAbnormalClosure}, KindAbruptClose},
		{&gws.CloseError{Code: gws.CloseGoingAway}, KindNetwork},
		{ErrClosedByUser, KindClosedByUser},
		{errors.New("strange"), KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), tc.err.Error())
	}
}

func routedConn(key string, r *route) *wsConn {
	return &wsConn{routes: map[string]*route{key: r}, done: make(chan struct{})}
}

func TestDeliverDropsOldestOnPublicRoute(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewWSClient(echoDialect{}, nil, Credentials{}, zap.New(core))
	r := &route{ch: make(chan []models.Record, 2)}
	cn := routedConn("ticker:BTC/USDT", r)

	for _, last := range []string{"1", "2", "3"} {
		c.deliver(cn, "ticker:BTC/USDT", []models.Record{{"last": last}})
	}

	require.Len(t, r.ch, 2)
	assert.Equal(t, "2", (<-r.ch)[0]["last"])
	assert.Equal(t, "3", (<-r.ch)[0]["last"])
	assert.Equal(t, 1, r.dropped)
	dropped := logs.FilterMessage("route queue full, oldest update dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "ticker:BTC/USDT", dropped[0].ContextMap()["route"])
}

func TestDeliverWaitsOnPrivateRoute(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewWSClient(echoDialect{}, nil, Credentials{}, zap.New(core))
	r := &route{ch: make(chan []models.Record, 1), private: true}
	cn := routedConn("orders", r)

	c.deliver(cn, "orders", []models.Record{{"ordId": "1"}})
	done := make(chan struct{})
	go func() {
		c.deliver(cn, "orders", []models.Record{{"ordId": "2"}})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("private update must not be dropped")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, "1", (<-r.ch)[0]["ordId"])
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not resume after the reader drained the queue")
	}
	assert.Equal(t, "2", (<-r.ch)[0]["ordId"])
	assert.Zero(t, r.dropped)
	assert.Equal(t, 1, logs.FilterMessage("private route queue full, waiting for reader").Len())
}

func TestDeliverToPrivateRouteStopsWhenConnectionFails(t *testing.T) {
	c := NewWSClient(echoDialect{}, nil, Credentials{}, zaptest.NewLogger(t))
	r := &route{ch: make(chan []models.Record, 1), private: true}
	cn := routedConn("orders", r)
	r.ch <- []models.Record{{"ordId": "1"}}

	done := make(chan struct{})
	go func() {
		c.deliver(cn, "orders", []models.Record{{"ordId": "2"}})
		close(done)
	}()
	close(cn.done)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver blocked on a dead connection")
	}
}
