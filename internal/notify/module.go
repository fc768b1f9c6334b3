package notify

import (
	"exchange_core/internal/modules/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newNotifier(cfg *config.Config, log *zap.Logger) (Notifier, error) {
	return New(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(newNotifier),
	)
}
