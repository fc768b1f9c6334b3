package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchanges:
  - name: OKX
    symbols: [BTC/USDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Health.Addr)
	assert.Equal(t, "info", cfg.Logger.Level)
	require.Len(t, cfg.Exchanges, 1)

	ex := cfg.Exchanges[0]
	assert.Equal(t, "okx", ex.Name)
	assert.Equal(t, []string{"1m"}, ex.TimeFrames)
	assert.Equal(t, float64(900), ex.WebSocket.FeedInitializationTimeout)
	assert.Equal(t, float64(120), ex.WebSocket.MinConnectionCloseInterval)
	assert.Equal(t, float64(240), ex.WebSocket.NoMessageDisconnectedTimeout)
	assert.Equal(t, 0.5, ex.WebSocket.ShortReconnectDelay)
	assert.Equal(t, float64(5), ex.WebSocket.LongReconnectDelay)
	assert.Zero(t, ex.WebSocket.ThrottledWsUpdates)
	assert.False(t, ex.WebSocket.RecreateClientOnDisconnect)
	assert.Equal(t, 3, ex.Orders.MaxRefreshFailures)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: info
exchanges:
  - name: okx
    credentials:
      api_key: from-file
`)
	t.Setenv("EXCORE_LOGGER_LEVEL", "debug")
	t.Setenv("OKX_API_KEY", "from-env")
	t.Setenv("OKX_SANDBOX", "true")
	t.Setenv("TELEGRAM_TOKEN", "tg")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "from-env", cfg.Exchanges[0].Credentials.APIKey)
	assert.True(t, cfg.Exchanges[0].IsSandboxed)
	assert.Equal(t, "tg", cfg.Telegram.Token)
}

func TestLoadRejectsDuplicateExchange(t *testing.T) {
	path := writeConfig(t, `
exchanges:
  - name: okx
  - name: OKX
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Seconds(0.5))
	assert.Equal(t, 2*time.Minute, Seconds(120))
}
