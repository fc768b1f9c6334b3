package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"exchange_core/internal/models"

	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	routeBuffer     = 256
	writeTimeout    = 10 * time.Second
	defaultAckAfter = 10 * time.Second
	dropLogEvery    = 1000
)

// EndpointResolver выбирает URL соединения для подписки.
type EndpointResolver func(sub Subscription) string

// WSClient: реализация Client поверх gorilla/websocket. Одно соединение на эндпоинт,
// входящие кадры раскладываются по очередям подписок.
type WSClient struct {
	dialect  Dialect
	dialer   *gws.Dialer
	endpoint EndpointResolver
	creds    Credentials
	header   http.Header
	log      *zap.Logger

	ackTimeout time.Duration

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
}

type WSClientOption func(*WSClient)

func WithAckTimeout(d time.Duration) WSClientOption {
	return func(c *WSClient) { c.ackTimeout = d }
}

func WithHeader(h http.Header) WSClientOption {
	return func(c *WSClient) { c.header = h }
}

func NewWSClient(dialect Dialect, endpoint EndpointResolver, creds Credentials, log *zap.Logger, opts ...WSClientOption) *WSClient {
	c := &WSClient{
		dialect:    dialect,
		dialer:     &gws.Dialer{HandshakeTimeout: 15 * time.Second},
		endpoint:   endpoint,
		creds:      creds,
		log:        log.Named("ws_client").With(zap.String("exchange", dialect.Name())),
		ackTimeout: defaultAckAfter,
		conns:      make(map[string]*wsConn),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type wsConn struct {
	url string
	ws  *gws.Conn

	writeMu sync.Mutex
	ctrlMu  sync.Mutex // одна подписка/логин в полёте
	ctrl    chan Message

	mu     sync.Mutex
	routes map[string]*route
	authed bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func (cn *wsConn) fail(err error) {
	cn.doneOnce.Do(func() {
		cn.err = err
		close(cn.done)
		_ = cn.ws.Close()
	})
}

func (cn *wsConn) write(data []byte) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cn.ws.WriteMessage(gws.TextMessage, data)
}

// route: очередь обновлений одной подписки. dropped меняет только readLoop.
type route struct {
	ch      chan []models.Record
	private bool
	dropped int
}

// deliver кладёт обновление в очередь подписки. На публичных лентах при переполнении
// выбрасывается самое старое обновление. Приватные ленты (ордера, позиции) не теряют
// ничего: readLoop ждёт читателя, пока соединение живо.
func (c *WSClient) deliver(cn *wsConn, key string, recs []models.Record) {
	cn.mu.Lock()
	r, ok := cn.routes[key]
	cn.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.ch <- recs:
		return
	default:
	}
	if r.private {
		c.log.Warn("private route queue full, waiting for reader", zap.String("route", key))
		select {
		case r.ch <- recs:
		case <-cn.done:
		}
		return
	}
	for {
		select {
		case <-r.ch:
			r.dropped++
			if r.dropped == 1 || r.dropped%dropLogEvery == 0 {
				c.log.Warn("route queue full, oldest update dropped",
					zap.String("route", key),
					zap.Int("dropped", r.dropped))
			}
		default:
		}
		select {
		case r.ch <- recs:
			return
		default:
		}
	}
}

func (c *WSClient) Watch(ctx context.Context, sub Subscription) ([]models.Record, error) {
	cn, err := c.conn(ctx, c.endpoint(sub))
	if err != nil {
		return nil, err
	}
	ch, err := c.route(ctx, cn, sub)
	if err != nil {
		return nil, err
	}
	select {
	case recs := <-ch:
		return recs, nil
	case <-cn.done:
		return nil, cn.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WSClient) conn(ctx context.Context, url string) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if cn, ok := c.conns[url]; ok {
		select {
		case <-cn.done:
		default:
			return cn, nil
		}
	}

	ws, _, err := c.dialer.DialContext(ctx, url, c.header)
	if err != nil {
		kind := Classify(err)
		if kind == KindUnknown {
			kind = KindNetwork
		}
		return nil, &Error{Kind: kind, Err: errors.Wrapf(err, "dial %s", url)}
	}
	cn := &wsConn{
		url:    url,
		ws:     ws,
		ctrl:   make(chan Message, 8),
		routes: make(map[string]*route),
		done:   make(chan struct{}),
	}
	c.conns[url] = cn
	c.log.Info("websocket connected", zap.String("url", url))
	go c.readLoop(cn)
	return cn, nil
}

func (c *WSClient) readLoop(cn *wsConn) {
	for {
		_, frame, err := cn.ws.ReadMessage()
		if err != nil {
			kind := Classify(err)
			if kind == KindUnknown {
				kind = KindNetwork
			}
			cn.fail(&Error{Kind: kind, Err: err})
			c.forget(cn)
			return
		}
		msgs, err := c.dialect.Parse(frame)
		if err != nil {
			c.log.Debug("skip unparsable frame", zap.Error(err), zap.ByteString("frame", frame))
			continue
		}
		for _, m := range msgs {
			switch m.Kind {
			case MessageData:
				c.deliver(cn, m.Route, m.Records)
			case MessagePong:
			default:
				select {
				case cn.ctrl <- m:
				default:
					c.log.Debug("control message dropped", zap.String("route", m.Route))
				}
			}
		}
	}
}

func (c *WSClient) forget(cn *wsConn) {
	c.mu.Lock()
	if cur, ok := c.conns[cn.url]; ok && cur == cn {
		delete(c.conns, cn.url)
	}
	c.mu.Unlock()
}

func (c *WSClient) route(ctx context.Context, cn *wsConn, sub Subscription) (chan []models.Record, error) {
	key := c.dialect.RouteKey(sub)

	cn.mu.Lock()
	r, ok := cn.routes[key]
	cn.mu.Unlock()
	if ok {
		return r.ch, nil
	}

	cn.ctrlMu.Lock()
	defer cn.ctrlMu.Unlock()

	cn.mu.Lock()
	if r, ok = cn.routes[key]; ok {
		cn.mu.Unlock()
		return r.ch, nil
	}
	authed := cn.authed
	cn.mu.Unlock()

	if sub.Spec.Private && !authed {
		if err := c.login(ctx, cn); err != nil {
			return nil, err
		}
	}

	msg, err := c.dialect.SubscribeMessage(sub)
	if err != nil {
		return nil, &Error{Kind: KindNotSupported, Err: err}
	}

	r = &route{ch: make(chan []models.Record, routeBuffer), private: sub.Spec.Private}
	cn.mu.Lock()
	cn.routes[key] = r
	cn.mu.Unlock()

	if err := c.request(ctx, cn, msg, MessageSubscribed); err != nil {
		cn.mu.Lock()
		delete(cn.routes, key)
		cn.mu.Unlock()
		return nil, err
	}
	c.log.Debug("subscribed", zap.String("route", key))
	return r.ch, nil
}

func (c *WSClient) login(ctx context.Context, cn *wsConn) error {
	if c.creds.Empty() {
		return &Error{Kind: KindBadRequest, Err: models.ErrAuthentication}
	}
	msg, err := c.dialect.LoginMessage(c.creds, time.Now())
	if err != nil {
		return &Error{Kind: KindBadRequest, Err: err}
	}
	if err := c.request(ctx, cn, msg, MessageLogin); err != nil {
		return err
	}
	cn.mu.Lock()
	cn.authed = true
	cn.mu.Unlock()
	return nil
}

// request отправляет управляющее сообщение и ждёт подтверждения нужного вида.
func (c *WSClient) request(ctx context.Context, cn *wsConn, msg []byte, want MessageKind) error {
	drain(cn.ctrl)
	if err := cn.write(msg); err != nil {
		cn.fail(&Error{Kind: KindNetwork, Err: err})
		c.forget(cn)
		return cn.err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case m := <-cn.ctrl:
			switch {
			case m.Kind == want:
				return nil
			case m.Kind == MessageError:
				if m.Err == nil {
					return &Error{Kind: KindBadRequest, Err: errors.New("request rejected")}
				}
				return m.Err
			case m.Kind == MessageSubscribed || m.Kind == MessageLogin:
				continue
			default:
				return errUnexpectedReply
			}
		case <-cn.done:
			return cn.err
		case <-timer.C:
			return errAckTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func drain(ch chan Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (c *WSClient) snapshot() []*wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*wsConn, 0, len(c.conns))
	for _, cn := range c.conns {
		out = append(out, cn)
	}
	return out
}

func (c *WSClient) Ping(ctx context.Context) error {
	msg := c.dialect.PingMessage()
	if len(msg) == 0 {
		return nil
	}
	var firstErr error
	for _, cn := range c.snapshot() {
		if err := cn.write(msg); err != nil && firstErr == nil {
			firstErr = &Error{Kind: KindNetwork, Err: err}
		}
	}
	return firstErr
}

func (c *WSClient) Reconnect() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*wsConn)
	c.mu.Unlock()

	for _, cn := range conns {
		c.closeConn(cn)
		cn.fail(ErrClosedByUser)
	}
	return nil
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Reconnect()
}

func (c *WSClient) closeConn(cn *wsConn) {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
