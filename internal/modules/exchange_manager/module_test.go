package exchange_manager

import (
	"testing"

	"exchange_core/internal/channels"
	"exchange_core/internal/modules/config"
	healthsvc "exchange_core/internal/modules/health/service"
	"exchange_core/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	cfg := &config.Config{StopGracePeriod: 1}
	cfg.Exchanges = []config.Exchange{{
		Name:       "okx",
		Symbols:    []string{"BTC/USDT"},
		TimeFrames: []string{"1m"},
		WebSocket:  config.DefaultWebSocket(),
		Orders:     config.DefaultOrders(),
	}}
	return cfg
}

func TestNewRegistryWiresNotifications(t *testing.T) {
	log := zaptest.NewLogger(t)
	state := healthsvc.NewState()

	reg, err := NewRegistry(testConfig(), state, notify.NewLog(log), log)
	require.NoError(t, err)

	m, ok := reg.Get("okx")
	require.True(t, ok)
	assert.Equal(t, 1, m.Channels().Get(channels.Orders).Consumers())
	_, ok = reg.Channels().Get("okx")
	assert.True(t, ok)
}

func TestNewRegistryRejectsUnsupportedExchange(t *testing.T) {
	log := zaptest.NewLogger(t)
	cfg := testConfig()
	cfg.Exchanges[0].Name = "kraken"

	_, err := NewRegistry(cfg, healthsvc.NewState(), notify.NewLog(log), log)
	assert.Error(t, err)

	_, err = NewRegistry(&config.Config{}, healthsvc.NewState(), notify.NewLog(log), log)
	assert.Error(t, err)
}
