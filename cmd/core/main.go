package main

import (
	"exchange_core/internal/modules/bootstrap"
	"exchange_core/internal/modules/config"
	"exchange_core/internal/modules/exchange_manager"
	"exchange_core/internal/modules/health"
	"exchange_core/internal/modules/observability"
	"exchange_core/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		observability.Module(),
		health.Module(),
		notify.Module(),
		exchange_manager.Module(),
		bootstrap.Module(),
	)
	app.Run()
}
