package stream

import (
	"context"

	"chart_feed/internal/modules/stream/service"

	"go.uber.org/fx"
)

// Module поднимает сессию живого фида.
func Module() fx.Option {
	return fx.Module("stream",
		fx.Provide(
			service.NewWSDialer,
			service.NewSession,
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Session) {
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					s.Close()
					return nil
				},
			})
		}),
	)
}
