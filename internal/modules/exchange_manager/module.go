package exchange_manager

import (
	"exchange_core/internal/channels"
	"exchange_core/internal/modules/config"
	"exchange_core/internal/modules/exchange_manager/service"
	healthsvc "exchange_core/internal/modules/health/service"
	"exchange_core/internal/notify"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const notifyConsumerID = "notify"

// NewRegistry поднимает менеджер на каждую биржу из конфига и подписывает уведомления на ORDERS.
func NewRegistry(cfg *config.Config, state *healthsvc.State, n notify.Notifier, log *zap.Logger) (*service.Registry, error) {
	if len(cfg.Exchanges) == 0 {
		return nil, errors.New("no exchanges configured")
	}
	settings := service.Settings{
		StopGracePeriod: config.Seconds(cfg.StopGracePeriod),
		Backtesting:     cfg.Backtesting,
	}
	reg := service.NewRegistry()
	for _, ex := range cfg.Exchanges {
		m, err := service.New(ex, settings, service.Deps{
			Log:      log.With(zap.String("exchange", ex.Name)),
			Health:   state.Exchange(ex.Name),
			Reporter: n,
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Add(m); err != nil {
			return nil, err
		}
		m.Channels().Get(channels.Orders).Subscribe(notifyConsumerID, channels.Filter{}, channels.PriorityLow,
			notify.OrdersConsumer(ex.Name, n))
	}
	return reg, nil
}

func Module() fx.Option {
	return fx.Module("exchange_manager",
		fx.Provide(NewRegistry),
	)
}
