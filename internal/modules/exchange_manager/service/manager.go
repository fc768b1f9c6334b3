// Package service собирает ядро одной биржи: нормализатор, шину, стаканы, свечи, поток, REST и ордера.
package service

import (
	"context"
	"sync"
	"time"

	"exchange_core/internal/channels"
	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/models"
	bootstrap "exchange_core/internal/modules/bootstrap/service"
	"exchange_core/internal/modules/config"
	okxrest "exchange_core/internal/modules/okx_client/service"
	"exchange_core/internal/normalizer"
	"exchange_core/internal/orderbook"
	"exchange_core/internal/orders"
	"exchange_core/internal/websocket"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tickerConsumerID = "orders-triggers"

// REST: запросы к бирже, которые нужны менеджеру.
type REST interface {
	orders.Exchange
	bootstrap.CandleSource
	Instruments(ctx context.Context, instType string) ([]models.Contract, error)
	PositionMode(ctx context.Context) (models.PositionMode, error)
	Balance(ctx context.Context) (models.Balance, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

// Stream: потоковая сессия (websocket.Connector).
type Stream interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Settings struct {
	StopGracePeriod time.Duration
	Backtesting     bool
}

type Deps struct {
	Log      *zap.Logger
	Health   websocket.HealthReporter
	Reporter bootstrap.Reporter

	// REST и NewStream подменяют клиентов биржи (тесты, симуляция).
	REST      REST
	NewStream func(cfg websocket.Config, deps websocket.Deps) (Stream, error)
}

type Manager struct {
	name     string
	cfg      config.Exchange
	settings Settings
	log      *zap.Logger

	symbols []models.Symbol
	watched []models.Symbol
	tfs     []models.TimeFrame

	contracts *Contracts
	chans     *channels.Channels
	norm      *normalizer.Normalizer
	books     *orderbook.Store
	candles   *bootstrap.CandleStore
	rest      REST
	stream    Stream
	orders    *orders.Manager
	warmup    *bootstrap.Warmuper

	marketsMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func New(cfg config.Exchange, settings Settings, deps Deps) (*Manager, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("exchange").With(zap.String("exchange", cfg.Name))
	if settings.StopGracePeriod <= 0 {
		settings.StopGracePeriod = 10 * time.Second
	}

	m := &Manager{
		name:      cfg.Name,
		cfg:       cfg,
		settings:  settings,
		log:       log,
		symbols:   toSymbols(cfg.Symbols),
		watched:   toSymbols(cfg.WatchedSymbols),
		contracts: NewContracts(),
		books:     orderbook.NewStore(),
		candles:   bootstrap.NewCandleStore(cfg.Backfill.Limit * 2),
	}
	for _, s := range cfg.TimeFrames {
		tf, err := models.ParseTimeFrame(s)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: timeframe", cfg.Name)
		}
		m.tfs = append(m.tfs, tf)
	}

	m.chans = channels.New(cfg.Name, settings.Backtesting, log)
	m.norm = normalizer.New(log,
		normalizer.WithContracts(m.contracts),
		normalizer.DropIncompleteCandles(cfg.DropIncompleteCandles))

	desc, dialect, err := exchangeKit(cfg.Name)
	if err != nil {
		return nil, err
	}

	m.rest = deps.REST
	if m.rest == nil {
		m.rest = okxrest.New(okxrest.Options{
			APIKey:     cfg.Credentials.APIKey,
			APISecret:  cfg.Credentials.APISecret,
			Passphrase: cfg.Credentials.Password,
			Sandboxed:  cfg.IsSandboxed,
			Timeout:    config.Seconds(cfg.RESTTimeout),
		}, m.norm, m.contracts, log)
	}

	m.orders = orders.NewManager(orders.Config{
		RefreshInterval:    config.Seconds(cfg.Orders.RefreshInterval),
		CancelTimeout:      config.Seconds(cfg.Orders.CancelTimeout),
		ActiveSwapTimeout:  config.Seconds(cfg.Orders.ActiveSwapTimeout),
		MaxRefreshFailures: cfg.Orders.MaxRefreshFailures,
		Backtesting:        settings.Backtesting,
	}, m.rest, m.chans, log)

	m.warmup = bootstrap.NewWarmuper(m.rest, m.norm, m.candles, bootstrap.WarmupConfig{
		Limit:       cfg.Backfill.Limit,
		Parallelism: cfg.Backfill.Parallelism,
	}, log)
	if deps.Reporter != nil {
		m.warmup.WithReporter(deps.Reporter)
	}

	creds := websocket.Credentials{
		APIKey:    cfg.Credentials.APIKey,
		APISecret: cfg.Credentials.APISecret,
		Password:  cfg.Credentials.Password,
		UID:       cfg.Credentials.UID,
	}
	wsDeps := websocket.Deps{
		Descriptor: desc,
		NewClient: func() websocket.Client {
			endpoint := func(sub websocket.Subscription) string {
				return desc.Endpoint(sub.Spec.Endpoint, cfg.IsSandboxed)
			}
			return websocket.NewWSClient(dialect, endpoint, creds, log)
		},
		Normalizer: m.norm,
		Channels:   m.chans,
		Books:      m.books,
		Candles:    m.candles,
		OnOrder:    m.onStreamOrder,
		Health:     deps.Health,
		Log:        log,
	}
	wsCfg := m.streamConfig(creds)

	if deps.NewStream != nil {
		m.stream, err = deps.NewStream(wsCfg, wsDeps)
	} else {
		m.stream, err = websocket.NewConnector(wsCfg, wsDeps)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: stream", cfg.Name)
	}
	return m, nil
}

// exchangeKit: описание фидов и диалект потокового протокола биржи.
func exchangeKit(name string) (*websocket.Descriptor, websocket.Dialect, error) {
	switch name {
	case "okx":
		desc, err := okx.Descriptor()
		if err != nil {
			return nil, nil, err
		}
		return desc, okx.NewDialect(), nil
	}
	return nil, nil, errors.Wrapf(models.ErrNotSupported, "exchange %q", name)
}

func (m *Manager) streamConfig(creds websocket.Credentials) websocket.Config {
	ws := m.cfg.WebSocket
	feeds := make([]websocket.Feed, 0, len(m.cfg.Feeds))
	for _, f := range m.cfg.Feeds {
		feeds = append(feeds, websocket.Feed(f))
	}
	return websocket.Config{
		Sandboxed:                    m.cfg.IsSandboxed,
		Credentials:                  creds,
		Feeds:                        feeds,
		Symbols:                      m.symbols,
		WatchedSymbols:               m.watched,
		TimeFrames:                   m.tfs,
		FeedInitializationTimeout:    config.Seconds(ws.FeedInitializationTimeout),
		MinConnectionCloseInterval:   config.Seconds(ws.MinConnectionCloseInterval),
		NoMessageDisconnectedTimeout: config.Seconds(ws.NoMessageDisconnectedTimeout),
		ShortReconnectDelay:          config.Seconds(ws.ShortReconnectDelay),
		LongReconnectDelay:           config.Seconds(ws.LongReconnectDelay),
		ThrottledWsUpdates:           config.Seconds(ws.ThrottledWsUpdates),
		RecreateClientOnDisconnect:   ws.RecreateClientOnDisconnect,
		MaxHandledFeeds:              ws.MaxHandledFeeds,
		Timeout:                      config.Seconds(ws.Timeout),
		TimeoutInterval:              config.Seconds(ws.TimeoutInterval),
		DebounceDuration:             config.Seconds(ws.DebounceDuration),
	}
}

func toSymbols(in []string) []models.Symbol {
	out := make([]models.Symbol, 0, len(in))
	for _, s := range in {
		out = append(out, models.Symbol(s))
	}
	return out
}

func (m *Manager) Name() string                    { return m.name }
func (m *Manager) Channels() *channels.Channels    { return m.chans }
func (m *Manager) Orders() *orders.Manager         { return m.orders }
func (m *Manager) Books() *orderbook.Store         { return m.books }
func (m *Manager) Candles() *bootstrap.CandleStore { return m.candles }

func (m *Manager) Contract(symbol models.Symbol) (models.Contract, bool) {
	return m.contracts.Contract(symbol)
}

func (m *Manager) SetContract(ct models.Contract) { m.contracts.Set(ct) }

func (m *Manager) authenticated() bool { return !m.cfg.Credentials.Empty() }

// allSymbols: торгуемые и наблюдаемые пары без повторов.
func (m *Manager) allSymbols() []models.Symbol {
	seen := make(map[models.Symbol]struct{}, len(m.symbols)+len(m.watched))
	out := make([]models.Symbol, 0, len(m.symbols)+len(m.watched))
	for _, list := range [][]models.Symbol{m.symbols, m.watched} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// LoadMarkets перечитывает торговые правила всех типов инструментов, которые встречаются в конфиге.
func (m *Manager) LoadMarkets(ctx context.Context) error {
	m.marketsMu.Lock()
	defer m.marketsMu.Unlock()

	symbols := m.allSymbols()
	var types []string
	seen := make(map[string]struct{})
	for _, s := range symbols {
		t := okx.InstType(s)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}

	loaded := 0
	for _, t := range types {
		cts, err := m.rest.Instruments(ctx, t)
		if err != nil {
			return errors.Wrapf(err, "load %s instruments", t)
		}
		for _, ct := range cts {
			m.contracts.Set(ct)
		}
		loaded += len(cts)
	}
	for _, s := range symbols {
		if _, ok := m.contracts.Contract(s); !ok {
			m.log.Warn("no market rules for configured symbol", zap.String("symbol", string(s)))
		}
	}
	m.log.Info("markets loaded", zap.Int("contracts", loaded))
	return nil
}

func (m *Manager) syncPositionMode(ctx context.Context) {
	mode, err := m.rest.PositionMode(ctx)
	if err != nil {
		m.log.Warn("position mode unavailable", zap.Error(err))
		return
	}
	m.contracts.SetPositionMode(mode)
}

// onStreamOrder: ордера приватного фида. Чужие ордера (созданные не через ядро) пропускаются.
func (m *Manager) onStreamOrder(ctx context.Context, o models.Order) error {
	err := m.orders.OnRefreshSuccessful(ctx, o)
	if errors.Is(err, models.ErrOrderNotFound) {
		m.log.Debug("untracked order update", zap.String("exchange_order_id", o.ExchangeOrderID))
		return nil
	}
	return err
}

// Start загружает правила рынков, запускает бэкфилл свечей, поток и обновление ордеров.
// Фоновые задачи живут до Stop, а не до отмены ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.Wrapf(models.ErrInvalidState, "%s: manager stopped", m.name)
	}
	if m.started {
		return nil
	}

	if err := m.LoadMarkets(ctx); err != nil {
		return errors.Wrapf(err, "%s: start", m.name)
	}
	if m.authenticated() {
		m.syncPositionMode(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group := new(errgroup.Group)

	symbols := m.allSymbols()
	group.Go(func() error {
		if err := m.warmup.Warmup(runCtx, symbols, m.tfs); err != nil && runCtx.Err() == nil {
			m.log.Warn("candle backfill incomplete", zap.Error(err))
		}
		return nil
	})

	m.chans.Get(channels.Ticker).Subscribe(tickerConsumerID, channels.Filter{}, channels.PriorityHigh,
		m.orders.TickerConsumer())

	if err := m.stream.Init(ctx); err != nil {
		cancel()
		_ = group.Wait()
		return errors.Wrapf(err, "%s: stream init", m.name)
	}
	if err := m.stream.Start(runCtx); err != nil {
		cancel()
		_ = group.Wait()
		return errors.Wrapf(err, "%s: stream start", m.name)
	}

	group.Go(func() error { return m.orders.Run(runCtx) })
	if m.authenticated() {
		group.Go(func() error {
			m.pushAccount(runCtx)
			return nil
		})
	}

	m.cancel = cancel
	m.group = group
	m.started = true
	m.log.Info("exchange manager started",
		zap.Int("symbols", len(m.symbols)),
		zap.Int("watched", len(m.watched)))
	return nil
}

// pushAccount публикует начальные баланс и позиции, пока приватные фиды не прислали свои.
func (m *Manager) pushAccount(ctx context.Context) {
	if bal, err := m.rest.Balance(ctx); err != nil {
		m.log.Warn("initial balance unavailable", zap.Error(err))
	} else if err := m.chans.Get(channels.Balance).Push(ctx, channels.Event{
		Payload: channels.BalanceUpdate{Balance: bal},
	}); err != nil && !errors.Is(err, channels.ErrChannelClosed) {
		m.log.Warn("balance push failed", zap.Error(err))
	}

	positions, err := m.rest.Positions(ctx)
	if err != nil {
		m.log.Warn("initial positions unavailable", zap.Error(err))
		return
	}
	ch := m.chans.Get(channels.Positions)
	for _, p := range positions {
		err := ch.Push(ctx, channels.Event{
			Cryptocurrency: p.Symbol.Base(),
			Symbol:         p.Symbol,
			Payload:        channels.PositionUpdate{Position: p},
		})
		if err != nil {
			if !errors.Is(err, channels.ErrChannelClosed) {
				m.log.Warn("position push failed", zap.Error(err))
			}
			return
		}
	}
}

// Stop гасит поток и фоновые задачи. По истечении StopGracePeriod оставшиеся задачи бросаются.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started, cancel, group := m.started, m.cancel, m.group
	m.mu.Unlock()

	if !started {
		m.chans.Stop()
		return nil
	}

	stopCtx, done := context.WithTimeout(ctx, m.settings.StopGracePeriod)
	defer done()

	cancel()
	errs := m.stream.Stop(stopCtx)

	wait := make(chan error, 1)
	go func() { wait <- group.Wait() }()
	select {
	case err := <-wait:
		errs = multierr.Append(errs, err)
	case <-stopCtx.Done():
		m.log.Warn("stop grace period exceeded, background tasks abandoned")
		errs = multierr.Append(errs, stopCtx.Err())
	}

	m.chans.Stop()
	m.log.Info("exchange manager stopped", zap.Error(errs))
	return errs
}
