package history

import (
	"chart_feed/internal/modules/history/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("history",
		fx.Provide(
			service.NewClient,
		),
	)
}
