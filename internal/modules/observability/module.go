// Package observability отдаёт в fx корневой zap-логгер и глобальный jaeger-трейсер.
package observability

import (
	"context"

	"exchange_core/internal/modules/config"
	"exchange_core/pkg/logger"
	"exchange_core/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ServiceName = "exchange_core"

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(ServiceName)
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracing.SetServiceName(ServiceName)
	tracer, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		log.Info("tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return tracer, nil
}

func Module() fx.Option {
	return fx.Module("observability",
		fx.Provide(NewLogger, NewTracer),
		// трейсер должен стать глобальным до первого span
		fx.Invoke(func(opentracing.Tracer) {}),
	)
}
