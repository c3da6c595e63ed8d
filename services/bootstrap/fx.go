package bootstrap

import (
	"context"

	"bizops-incentives/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
	fx.Invoke(runBootstrap),
)

// Run after DB initialized
func runBootstrap(lc fx.Lifecycle, b *Service, cfg *config.Config) {
	if !cfg.Database.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Run(ctx)
		},
	})
}
