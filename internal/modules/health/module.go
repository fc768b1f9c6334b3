package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"exchange_core/internal/modules/config"
	"exchange_core/internal/modules/health/service"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	addr := cfg.Health.Addr
	if addr == "" {
		addr = ":8080"
	}
	return Config{Addr: addr}
}

type exchangeResp struct {
	Name         string `json:"name"`
	WSConnected  bool   `json:"wsConnected"`
	LastTickUnix int64  `json:"lastTickUnix"`
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: менеджеры бирж запущены
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		statuses := state.Exchanges()
		exchanges := make([]exchangeResp, 0, len(statuses))
		for _, st := range statuses {
			exchanges = append(exchanges, exchangeResp{
				Name:         st.Name,
				WSConnected:  st.WSConnected,
				LastTickUnix: unix(st.LastTick),
			})
		}
		resp := map[string]any{
			"ready":        state.Ready(),
			"wsConnected":  state.WSConnected(),
			"uptimeSec":    int64(state.Uptime().Seconds()),
			"lastTickUnix": unix(state.LastTick()),
			"exchanges":    exchanges,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(resp)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("health server stopped", zap.Error(err))
				}
			}()
			log.Info("health server listening", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
