package main

import (
	"context"
	"log"

	"chart_feed/internal/modules/chart"
	"chart_feed/internal/modules/config"
	"chart_feed/internal/modules/health"
	"chart_feed/internal/modules/history"
	"chart_feed/internal/modules/stream"
	"chart_feed/internal/notify"
	"chart_feed/pkg/logger"
	"chart_feed/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger.SetServiceName("chart_feed")
	tracing.SetServiceName("chart_feed")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			// Notifier: если TELEGRAM_* нет — пишем в лог
			func(cfg *config.Config) notify.Notifier {
				if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
					if tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID); err == nil {
						return tg
					}
				}
				return notify.NewStdout()
			},
		),
		config.Module(),
		history.Module(),
		stream.Module(),
		chart.Module(),
		health.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			if cfg.Jaeger.Host == "" {
				return
			}
			var closeTracer func()
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					_, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Jaeger.Host, Port: cfg.Jaeger.Port})
					if err != nil {
						return err
					}
					closeTracer = closer
					return nil
				},
				OnStop: func(_ context.Context) error {
					if closeTracer != nil {
						closeTracer()
					}
					return nil
				},
			})
		}),
	)
	app.Run()
}
