package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"exchange_core/internal/channels"
	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"
	"exchange_core/internal/orderbook"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoFeeds        = errors.New("no supported feeds to subscribe")
	ErrNotInitialized = errors.New("connector is not initialized")
	ErrStopped        = errors.New("connector is stopped")
)

type Config struct {
	Sandboxed      bool
	Credentials    Credentials
	Feeds          []Feed // пусто: все фиды биржи
	Symbols        []models.Symbol
	WatchedSymbols []models.Symbol
	TimeFrames     []models.TimeFrame

	FeedInitializationTimeout    time.Duration
	MinConnectionCloseInterval   time.Duration
	NoMessageDisconnectedTimeout time.Duration
	ShortReconnectDelay          time.Duration
	LongReconnectDelay           time.Duration
	ThrottledWsUpdates           time.Duration
	RecreateClientOnDisconnect   bool
	MaxHandledFeeds              int // 0: без ограничения

	Timeout          time.Duration
	TimeoutInterval  time.Duration
	DebounceDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		FeedInitializationTimeout:    15 * time.Minute,
		MinConnectionCloseInterval:   2 * time.Minute,
		NoMessageDisconnectedTimeout: 4 * time.Minute,
		ShortReconnectDelay:          500 * time.Millisecond,
		LongReconnectDelay:           5 * time.Second,
		Timeout:                      30 * time.Second,
		TimeoutInterval:              20 * time.Second,
		DebounceDuration:             2 * time.Second,
	}
}

// HealthReporter принимает сигналы о состоянии потока (см. health).
type HealthReporter interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

// OrderHandler получает ордера из приватного фида (обычно менеджер ордеров).
type OrderHandler func(ctx context.Context, order models.Order) error

type Deps struct {
	Descriptor *Descriptor
	NewClient  ClientFactory
	Normalizer *normalizer.Normalizer
	Channels   *channels.Channels
	Books      *orderbook.Store
	Candles    CandleStore
	OnOrder    OrderHandler
	Health     HealthReporter
	Log        *zap.Logger
	Clock      func() time.Time
}

type feedTask struct {
	sub    Subscription
	cancel context.CancelFunc
}

// Connector: потоковая сессия одной биржи.
type Connector struct {
	cfg   Config
	desc  *Descriptor
	norm  *normalizer.Normalizer
	chans *channels.Channels
	books *orderbook.Store
	store CandleStore
	order OrderHandler
	hlth  HealthReporter
	log   *zap.Logger
	now   func() time.Time

	newClient ClientFactory
	clientMu  sync.RWMutex
	client    Client

	candles      *candleTracker
	handlers     map[Feed]feedHandler
	minTimeFrame models.TimeFrame

	mu          sync.Mutex
	feeds       []Feed
	plan        []Subscription
	running     map[string]*feedTask
	initialized bool
	runCtx      context.Context
	cancel      context.CancelFunc
	group       *errgroup.Group

	restartMu     sync.Mutex
	restartTimer  *time.Timer
	lastRestart   time.Time
	reconnectMu   sync.Mutex
	lastReconnect time.Time
	reconnects    atomic.Int64

	lastMessage atomic.Int64 // unix nano
	stopping    atomic.Bool
}

func NewConnector(cfg Config, deps Deps) (*Connector, error) {
	if deps.Descriptor == nil {
		return nil, errors.New("connector requires exchange descriptor")
	}
	if deps.NewClient == nil {
		return nil, errors.New("connector requires client factory")
	}
	if deps.Channels == nil {
		return nil, errors.New("connector requires channels")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws_connector").With(zap.String("exchange", deps.Descriptor.Exchange))
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	norm := deps.Normalizer
	if norm == nil {
		norm = normalizer.New(log)
	}
	books := deps.Books
	if books == nil {
		books = orderbook.NewStore()
	}

	c := &Connector{
		cfg:       cfg,
		desc:      deps.Descriptor,
		norm:      norm,
		chans:     deps.Channels,
		books:     books,
		store:     deps.Candles,
		order:     deps.OnOrder,
		hlth:      deps.Health,
		log:       log,
		now:       now,
		newClient: deps.NewClient,
		running:   make(map[string]*feedTask),
	}
	c.candles = newCandleTracker(deps.Candles, log, now)
	c.handlers = c.dispatchTable()
	if tf, ok := models.MinTimeFrame(cfg.TimeFrames); ok {
		c.minTimeFrame = tf
	}
	return c, nil
}

// Init выбирает фиды и строит план подписок. Повторный вызов перестраивает план.
func (c *Connector) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resolved := c.desc.Resolve(c.cfg.Feeds)
	feeds := make([]Feed, 0, len(resolved))
	for _, f := range resolved {
		if _, ok := c.handlers[f]; !ok {
			c.log.Debug("feed without handler skipped", zap.String("feed", string(f)))
			continue
		}
		if c.desc.Feeds[f].Private && !c.authenticated() {
			c.log.Info("private feed skipped: not authenticated",
				zap.String("feed", string(f)),
				zap.Bool("sandboxed", c.cfg.Sandboxed))
			continue
		}
		feeds = append(feeds, f)
	}
	if len(feeds) == 0 {
		return ErrNoFeeds
	}
	c.feeds = feeds
	c.plan = c.planSubscriptions(c.cfg.Symbols, c.cfg.WatchedSymbols)
	c.initialized = true

	c.log.Info("connector initialized",
		zap.Int("feeds", len(c.feeds)),
		zap.Int("subscriptions", len(c.plan)))
	return nil
}

// authenticated: приватные фиды требуют ключей. В песочнице ключи годятся, только если биржа
// пускает с ними на приватные фиды (sandbox_private_feeds в описании).
func (c *Connector) authenticated() bool {
	if c.cfg.Credentials.Empty() {
		return false
	}
	return !c.cfg.Sandboxed || c.desc.SandboxPrivateFeeds
}

func (c *Connector) planSubscriptions(symbols, watched []models.Symbol) []Subscription {
	var (
		out  []Subscription
		seen = make(map[string]struct{})
	)
	add := func(s Subscription) {
		if _, ok := seen[s.Key()]; ok {
			return
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	traded := make(map[models.Symbol]struct{}, len(symbols))
	for _, s := range symbols {
		traded[s] = struct{}{}
	}

	for _, f := range c.feeds {
		spec := c.desc.Feeds[f]
		if spec.Topology == TopologyPairIndependent {
			add(Subscription{Feed: f, Spec: spec})
			continue
		}
		for _, sym := range symbols {
			if spec.FuturesOnly && !sym.IsFuture() {
				continue
			}
			if !spec.PerTimeFrame {
				add(Subscription{Feed: f, Spec: spec, Symbol: sym})
				continue
			}
			for _, tf := range c.cfg.TimeFrames {
				add(Subscription{Feed: f, Spec: spec, Symbol: sym, TimeFrame: tf})
			}
		}
		if !spec.Watched {
			continue
		}
		for _, sym := range watched {
			if _, ok := traded[sym]; ok {
				continue
			}
			if spec.FuturesOnly && !sym.IsFuture() {
				continue
			}
			s := Subscription{Feed: f, Spec: spec, Symbol: sym, Watched: true}
			if spec.PerTimeFrame {
				if c.minTimeFrame == "" {
					continue
				}
				s.TimeFrame = c.minTimeFrame
			}
			add(s)
		}
	}

	if limit := c.cfg.MaxHandledFeeds; limit > 0 && len(out) > limit {
		c.log.Warn("too many feeds, extra subscriptions ignored",
			zap.Int("planned", len(out)), zap.Int("max_handled_feeds", limit))
		out = out[:limit]
	}
	return out
}

// Start поднимает задачи фидов и сторожа. Задачи живут до Stop.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return ErrNotInitialized
	}
	if c.stopping.Load() {
		return ErrStopped
	}
	if c.group != nil {
		return nil
	}

	c.setClient(c.newClient())
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.group, _ = errgroup.WithContext(c.runCtx)
	c.touch()

	for _, sub := range c.plan {
		c.spawnLocked(sub)
	}
	c.group.Go(func() error { return c.watchdog(c.runCtx) })

	c.log.Info("connector started", zap.Int("tasks", len(c.running)))
	return nil
}

// Stop останавливает переподключения и задачи; по истечении ctx задачи считаются брошенными.
func (c *Connector) Stop(ctx context.Context) error {
	if !c.stopping.CompareAndSwap(false, true) {
		return nil
	}

	c.restartMu.Lock()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	c.restartMu.Unlock()

	c.mu.Lock()
	group := c.group
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if cl := c.currentClient(); cl != nil {
		if err := cl.Close(); err != nil {
			c.log.Warn("close websocket client", zap.Error(err))
		}
	}
	if c.hlth != nil {
		c.hlth.SetWSConnected(false)
	}
	if group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		c.log.Info("connector stopped")
		return err
	case <-ctx.Done():
		c.log.Warn("connector stop grace period exceeded, feed tasks abandoned")
		return ctx.Err()
	}
}

// AddPairs добавляет торгуемые пары. Без живого добавления сессия перезапускается с дебаунсом.
func (c *Connector) AddPairs(symbols []models.Symbol) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	known := make(map[models.Symbol]struct{}, len(c.cfg.Symbols))
	for _, s := range c.cfg.Symbols {
		known[s] = struct{}{}
	}
	var added []models.Symbol
	for _, s := range symbols {
		if _, ok := known[s]; ok {
			continue
		}
		known[s] = struct{}{}
		added = append(added, s)
	}
	if len(added) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.cfg.Symbols = append(c.cfg.Symbols, added...)

	if c.desc.SupportsLivePairAddition {
		subs := c.planSubscriptions(added, nil)
		c.plan = append(c.plan, subs...)
		if c.group != nil {
			for _, sub := range subs {
				c.spawnLocked(sub)
			}
		}
		c.mu.Unlock()
		c.log.Info("pairs added live", zap.Int("pairs", len(added)))
		return nil
	}
	c.plan = c.planSubscriptions(c.cfg.Symbols, c.cfg.WatchedSymbols)
	started := c.group != nil
	c.mu.Unlock()

	if started {
		c.scheduleRestart(c.cfg.DebounceDuration)
	}
	return nil
}

// Subscribe добавляет одну подписку; для пар без таймфрейма tf пустой.
func (c *Connector) Subscribe(feed Feed, symbol models.Symbol, tf models.TimeFrame) error {
	spec, ok := c.desc.Feeds[feed]
	if !ok {
		return &Error{Kind: KindNotSupported, Err: errors.Errorf("feed %s", feed)}
	}
	if _, ok := c.handlers[feed]; !ok {
		return &Error{Kind: KindNotSupported, Err: errors.Errorf("feed %s has no handler", feed)}
	}
	if spec.Private && !c.authenticated() {
		return &Error{Kind: KindBadRequest, Err: models.ErrAuthentication}
	}
	sub := Subscription{Feed: feed, Spec: spec}
	if spec.Topology == TopologyTradedPair {
		if symbol == "" {
			return errors.Errorf("feed %s requires a symbol", feed)
		}
		sub.Symbol = symbol
		if spec.PerTimeFrame {
			if !tf.Valid() {
				return errors.Errorf("feed %s requires a timeframe", feed)
			}
			sub.TimeFrame = tf
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	for _, p := range c.plan {
		if p.Key() == sub.Key() {
			return nil
		}
	}
	c.plan = append(c.plan, sub)
	if c.group != nil {
		c.spawnLocked(sub)
	}
	return nil
}

// Subscriptions возвращает текущий план подписок.
func (c *Connector) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, len(c.plan))
	copy(out, c.plan)
	return out
}

func (c *Connector) Feeds() []Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Feed, len(c.feeds))
	copy(out, c.feeds)
	return out
}

// Reconnect принудительно рвёт сессию. Не чаще раза в MinConnectionCloseInterval;
// возвращает false, если вызов подавлен.
func (c *Connector) Reconnect(reason string) bool {
	if c.stopping.Load() {
		return false
	}
	c.reconnectMu.Lock()
	now := c.now()
	if !c.lastReconnect.IsZero() && now.Sub(c.lastReconnect) < c.cfg.MinConnectionCloseInterval {
		c.reconnectMu.Unlock()
		c.log.Debug("reconnect suppressed", zap.String("reason", reason))
		return false
	}
	c.lastReconnect = now
	c.reconnectMu.Unlock()

	c.log.Info("reconnecting websocket", zap.String("reason", reason))
	c.reconnects.Add(1)
	if c.hlth != nil {
		c.hlth.SetWSConnected(false)
	}

	old := c.currentClient()
	if c.cfg.RecreateClientOnDisconnect {
		c.setClient(c.newClient())
		if old != nil {
			if err := old.Close(); err != nil {
				c.log.Debug("close previous client", zap.Error(err))
			}
		}
		return true
	}
	if old != nil {
		if err := old.Reconnect(); err != nil {
			c.log.Warn("websocket reconnect", zap.Error(err))
		}
	}
	return true
}

// Reconnects: число выполненных принудительных переподключений.
func (c *Connector) Reconnects() int64 { return c.reconnects.Load() }

func (c *Connector) scheduleRestart(delay time.Duration) {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()
	if c.stopping.Load() {
		return
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	c.restartTimer = time.AfterFunc(delay, c.restart)
}

// restart закрывает сессию и заново поднимает все задачи по текущему плану.
func (c *Connector) restart() {
	if c.stopping.Load() {
		return
	}
	c.restartMu.Lock()
	now := c.now()
	if wait := c.cfg.MinConnectionCloseInterval - now.Sub(c.lastRestart); !c.lastRestart.IsZero() && wait > 0 {
		c.restartTimer = time.AfterFunc(wait, c.restart)
		c.restartMu.Unlock()
		c.log.Debug("restart postponed", zap.Duration("wait", wait))
		return
	}
	c.lastRestart = now
	c.restartTimer = nil
	c.restartMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group == nil || c.stopping.Load() {
		return
	}
	for key, t := range c.running {
		t.cancel()
		delete(c.running, key)
	}
	old := c.currentClient()
	c.setClient(c.newClient())
	if old != nil {
		_ = old.Close()
	}
	for _, sub := range c.plan {
		c.spawnLocked(sub)
	}
	c.log.Info("connector restarted", zap.Int("tasks", len(c.running)))
}

func (c *Connector) spawnLocked(sub Subscription) {
	key := sub.Key()
	if _, ok := c.running[key]; ok {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	task := &feedTask{sub: sub, cancel: cancel}
	c.running[key] = task
	c.group.Go(func() error {
		defer cancel()
		c.runFeed(ctx, sub)
		c.mu.Lock()
		if cur, ok := c.running[key]; ok && cur == task {
			delete(c.running, key)
		}
		c.mu.Unlock()
		return nil
	})
}

// Running: число активных задач фидов.
func (c *Connector) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *Connector) currentClient() Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

func (c *Connector) setClient(cl Client) {
	c.clientMu.Lock()
	c.client = cl
	c.clientMu.Unlock()
}

func (c *Connector) touch() {
	now := c.now()
	c.lastMessage.Store(now.UnixNano())
	if c.hlth != nil {
		c.hlth.TouchTick(now)
		c.hlth.SetWSConnected(true)
	}
}

func (c *Connector) sinceLastMessage() time.Duration {
	last := c.lastMessage.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return c.now().Sub(time.Unix(0, last))
}

func (c *Connector) push(ctx context.Context, name channels.Name, ev channels.Event) error {
	err := c.chans.Get(name).Push(ctx, ev)
	if errors.Is(err, channels.ErrChannelClosed) && c.stopping.Load() {
		return nil
	}
	return err
}
