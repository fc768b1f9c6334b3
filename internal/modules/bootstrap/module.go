package bootstrap

import (
	"context"

	"exchange_core/internal/modules/exchange_manager/service"
	healthsvc "exchange_core/internal/modules/health/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Run привязывает запуск и остановку менеджеров бирж к жизненному циклу приложения.
func Run(lc fx.Lifecycle, reg *service.Registry, state *healthsvc.State, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := reg.StartAll(ctx); err != nil {
				return err
			}
			state.SetReady(true)
			log.Info("exchanges started", zap.Int("count", len(reg.All())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			err := reg.StopAll(ctx)
			if err != nil {
				log.Warn("exchanges stopped with errors", zap.Error(err))
			}
			return err
		},
	})
}

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Invoke(Run),
	)
}
