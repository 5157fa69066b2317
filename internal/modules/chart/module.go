package chart

import (
	"context"

	"chart_feed/internal/models"
	"chart_feed/internal/modules/chart/service"
	"chart_feed/internal/modules/config"

	"go.uber.org/fx"
)

// Module поднимает движок склейки серий и подписывает его на инструмент
// из конфига.
func Module() fx.Option {
	return fx.Module("chart",
		fx.Provide(
			service.NewEngine,
		),
		fx.Invoke(func(lc fx.Lifecycle, e *service.Engine, cfg *config.Config, appCtx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go e.Start(appCtx)
					e.SetActive(true)
					if cfg.Market.Address != "" {
						tf, err := models.ParseTimeframe(cfg.Market.Timeframe)
						if err != nil {
							return err
						}
						e.Watch(cfg.Market.Address, tf)
					}
					return nil
				},
				OnStop: func(_ context.Context) error {
					e.SetActive(false)
					return nil
				},
			})
		}),
	)
}
