package config

import (
	"os"
	"strings"
	"time"

	"exchange_core/pkg/logger"
	"exchange_core/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	envPrefix         = "EXCORE"

	defaultConfigFile = "configs/values_local.yaml"
)

type Config struct {
	Logger  logger.Config  `mapstructure:"logger"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Health  struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	// StopGracePeriod: сколько ждём фоновые задачи при остановке, секунды.
	StopGracePeriod float64 `mapstructure:"stop_grace_period"`
	// Backtesting включает синхронную доставку по шине и синхронный refresh ордеров.
	Backtesting bool `mapstructure:"backtesting"`

	Exchanges []Exchange `mapstructure:"exchanges"`
}

type Credentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Password  string `mapstructure:"password"`
	UID       string `mapstructure:"uid"`
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

type Exchange struct {
	Name        string      `mapstructure:"name"`
	Credentials Credentials `mapstructure:"credentials"`
	IsSandboxed bool        `mapstructure:"is_sandboxed"`

	Symbols        []string `mapstructure:"symbols"`
	WatchedSymbols []string `mapstructure:"watched_symbols"`
	TimeFrames     []string `mapstructure:"timeframes"`
	Feeds          []string `mapstructure:"feeds"`

	DropIncompleteCandles bool    `mapstructure:"drop_incomplete_candles"`
	RESTTimeout           float64 `mapstructure:"rest_timeout"`

	WebSocket WebSocket `mapstructure:"websocket"`
	Orders    Orders    `mapstructure:"orders"`
	Backfill  Backfill  `mapstructure:"backfill"`
}

// WebSocket: все интервалы в секундах.
type WebSocket struct {
	FeedInitializationTimeout    float64 `mapstructure:"feed_initialization_timeout"`
	MinConnectionCloseInterval   float64 `mapstructure:"min_connection_close_interval"`
	NoMessageDisconnectedTimeout float64 `mapstructure:"no_message_disconnected_timeout"`
	ShortReconnectDelay          float64 `mapstructure:"short_reconnect_delay"`
	LongReconnectDelay           float64 `mapstructure:"long_reconnect_delay"`
	ThrottledWsUpdates           float64 `mapstructure:"throttled_ws_updates"`
	RecreateClientOnDisconnect   bool    `mapstructure:"recreate_client_on_disconnect"`
	MaxHandledFeeds              int     `mapstructure:"max_handled_feeds"`
	Timeout                      float64 `mapstructure:"timeout"`
	TimeoutInterval              float64 `mapstructure:"timeout_interval"`
	DebounceDuration             float64 `mapstructure:"debounce_duration"`
}

type Orders struct {
	RefreshInterval    float64 `mapstructure:"refresh_interval"`
	CancelTimeout      float64 `mapstructure:"cancel_timeout"`
	ActiveSwapTimeout  float64 `mapstructure:"active_swap_strategy_timeout"`
	MaxRefreshFailures int     `mapstructure:"max_refresh_failures"`
}

type Backfill struct {
	Limit       int `mapstructure:"limit"`
	Parallelism int `mapstructure:"parallelism"`
}

func DefaultWebSocket() WebSocket {
	return WebSocket{
		FeedInitializationTimeout:    15 * 60,
		MinConnectionCloseInterval:   120,
		NoMessageDisconnectedTimeout: 240,
		ShortReconnectDelay:          0.5,
		LongReconnectDelay:           5,
		ThrottledWsUpdates:           0,
		RecreateClientOnDisconnect:   false,
		MaxHandledFeeds:              0,
		Timeout:                      30,
		TimeoutInterval:              20,
		DebounceDuration:             2,
	}
}

func DefaultOrders() Orders {
	return Orders{
		RefreshInterval:    10,
		CancelTimeout:      30,
		ActiveSwapTimeout:  60,
		MaxRefreshFailures: 3,
	}
}

// Seconds переводит значение конфига (секунды, дробные) в time.Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// NewConfig читает yaml (CONFIG_FILE) с переопределениями из окружения EXCORE_*.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFile := getenvDefault(configFilePathENV, defaultConfigFile)
	return Load(configFile)
}

func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("health.addr", ":8080")
	v.SetDefault("stop_grace_period", 10)
	v.SetDefault("backtesting", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", configFile)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}

	for i := range cfg.Exchanges {
		applyExchangeDefaults(&cfg.Exchanges[i])
		applyCredentialsEnv(&cfg.Exchanges[i])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			return errors.New("exchange without name")
		}
		if _, dup := seen[ex.Name]; dup {
			return errors.Errorf("exchange %s configured twice", ex.Name)
		}
		seen[ex.Name] = struct{}{}
	}
	return nil
}

// applyExchangeDefaults: у списков viper не умеет SetDefault, поэтому нули заполняем руками.
func applyExchangeDefaults(ex *Exchange) {
	ex.Name = strings.ToLower(strings.TrimSpace(ex.Name))

	def := DefaultWebSocket()
	ws := &ex.WebSocket
	setFloat(&ws.FeedInitializationTimeout, def.FeedInitializationTimeout)
	setFloat(&ws.MinConnectionCloseInterval, def.MinConnectionCloseInterval)
	setFloat(&ws.NoMessageDisconnectedTimeout, def.NoMessageDisconnectedTimeout)
	setFloat(&ws.ShortReconnectDelay, def.ShortReconnectDelay)
	setFloat(&ws.LongReconnectDelay, def.LongReconnectDelay)
	setFloat(&ws.Timeout, def.Timeout)
	setFloat(&ws.TimeoutInterval, def.TimeoutInterval)
	setFloat(&ws.DebounceDuration, def.DebounceDuration)

	od := DefaultOrders()
	setFloat(&ex.Orders.RefreshInterval, od.RefreshInterval)
	setFloat(&ex.Orders.CancelTimeout, od.CancelTimeout)
	setFloat(&ex.Orders.ActiveSwapTimeout, od.ActiveSwapTimeout)
	if ex.Orders.MaxRefreshFailures <= 0 {
		ex.Orders.MaxRefreshFailures = od.MaxRefreshFailures
	}

	setFloat(&ex.RESTTimeout, 30)
	if ex.Backfill.Limit <= 0 {
		ex.Backfill.Limit = 200
	}
	if ex.Backfill.Parallelism <= 0 {
		ex.Backfill.Parallelism = 8
	}
	if len(ex.TimeFrames) == 0 {
		ex.TimeFrames = []string{"1m"}
	}
}

func setFloat(dst *float64, def float64) {
	if *dst <= 0 {
		*dst = def
	}
}

// applyCredentialsEnv: OKX_API_KEY и т.п. перекрывают значения из файла.
func applyCredentialsEnv(ex *Exchange) {
	prefix := strings.ToUpper(ex.Name) + "_"
	ex.Credentials.APIKey = getenvDefault(prefix+"API_KEY", ex.Credentials.APIKey)
	ex.Credentials.APISecret = getenvDefault(prefix+"API_SECRET", ex.Credentials.APISecret)
	ex.Credentials.Password = getenvDefault(prefix+"PASSWORD", ex.Credentials.Password)
	ex.Credentials.UID = getenvDefault(prefix+"UID", ex.Credentials.UID)
	ex.IsSandboxed = boolFromEnv(prefix+"SANDBOX", ex.IsSandboxed)
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
