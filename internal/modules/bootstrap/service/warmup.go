// Package service: REST-бэкфилл истории свечей до старта потоковых фидов.
package service

import (
	"context"
	"sync"
	"time"

	"exchange_core/internal/models"
	"exchange_core/internal/normalizer"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CandleSource: REST-история свечей, от старых к новым.
type CandleSource interface {
	Candles(ctx context.Context, symbol models.Symbol, tf models.TimeFrame, limit int) ([]models.Record, error)
}

// Reporter получает служебные сообщения о ходе бэкфилла (обычно телеграм).
type Reporter interface {
	Sendf(format string, args ...any)
}

type WarmupConfig struct {
	Limit       int
	Parallelism int
}

type Warmuper struct {
	src   CandleSource
	norm  *normalizer.Normalizer
	store *CandleStore
	rep   Reporter
	log   *zap.Logger
	cfg   WarmupConfig
}

func NewWarmuper(src CandleSource, norm *normalizer.Normalizer, store *CandleStore, cfg WarmupConfig, log *zap.Logger) *Warmuper {
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	// ограничитель параллелизма, чтобы не словить rate limit
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	return &Warmuper{
		src:   src,
		norm:  norm,
		store: store,
		cfg:   cfg,
		log:   log.Named("warmup"),
	}
}

func (w *Warmuper) WithReporter(r Reporter) *Warmuper {
	w.rep = r
	return w
}

func (w *Warmuper) report(format string, args ...any) {
	if w.rep != nil {
		w.rep.Sendf(format, args...)
	}
}

// Warmup загружает историю для каждой пары (символ, таймфрейм). Ошибка одной пары не останавливает
// остальные: серия остаётся неинициализированной, и гейт фида дождётся её по таймауту.
func (w *Warmuper) Warmup(ctx context.Context, symbols []models.Symbol, tfs []models.TimeFrame) error {
	if len(symbols) == 0 || len(tfs) == 0 {
		return nil
	}
	started := time.Now()
	w.report("🔥 REST warmup start: symbols=%d timeframes=%d limit=%d", len(symbols), len(tfs), w.cfg.Limit)

	var (
		mu    sync.Mutex
		errs  error
		count int
	)
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Parallelism)
	for _, sym := range symbols {
		for _, tf := range tfs {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				n, err := w.load(ctx, sym, tf)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = multierr.Append(errs, err)
					return nil
				}
				count += n
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if errs != nil {
		w.log.Warn("warmup finished with errors",
			zap.Int("candles", count),
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Error(errs))
		w.report("⚠️ REST warmup finished with error: %v", errs)
		return errs
	}
	w.log.Info("warmup done",
		zap.Int("symbols", len(symbols)),
		zap.Int("candles", count),
		zap.Duration("took", time.Since(started)))
	w.report("✅ REST warmup finished: %d candles", count)
	return nil
}

func (w *Warmuper) load(ctx context.Context, symbol models.Symbol, tf models.TimeFrame) (int, error) {
	raw, err := w.src.Candles(ctx, symbol, tf, w.cfg.Limit)
	if err != nil {
		return 0, errors.Wrapf(err, "warmup %s %s", symbol, tf)
	}
	candles := w.norm.Candles(raw, tf)
	w.store.Load(symbol, tf, candles)
	return len(candles), nil
}
