package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"chart_feed/internal/models"
	chartsvc "chart_feed/internal/modules/chart/service"
	appconfig "chart_feed/internal/modules/config"
	"chart_feed/internal/modules/health/service"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *appconfig.Config) Config {
	port := cfg.Service.HealthPort
	if port == 0 {
		port = 8080
	}
	return Config{Addr: fmt.Sprintf(":%d", port)}
}

func NewMux(state *service.State, eng *chartsvc.Engine) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: хотя бы один фетч истории доехал
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// полезный JSON для отладки
		resp := map[string]any{
			"ready":       state.Ready(),
			"wsConnected": state.WSConnected(),
			"uptimeSec":   int64(state.Uptime().Seconds()),
			"reconnects":  state.Reconnects(),
			"staleTicks":  state.StaleTicks(),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	// /series — текущая склеенная серия, то же, что видит хост-вью.
	mux.HandleFunc("/series", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Snapshot())
	})

	// /watch?address=..&timeframe=.. — переключить инструмент/таймфрейм.
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		address := r.URL.Query().Get("address")
		if address == "" {
			http.Error(w, "address is required", http.StatusBadRequest)
			return
		}
		tf, err := models.ParseTimeframe(r.URL.Query().Get("timeframe"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		eng.Watch(address, tf)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/refetch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		eng.Refetch()
		w.WriteHeader(http.StatusAccepted)
	})

	// /active?on=true|false — сигнал видимости хоста: false глушит
	// стрим и периодические рефетчи.
	mux.HandleFunc("/active", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		eng.SetActive(r.URL.Query().Get("on") != "false")
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux) {
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
			go func() { _ = srv.Serve(ln) }()
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
