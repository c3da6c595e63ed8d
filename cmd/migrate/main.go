package main

import (
	"context"
	"log"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/gen"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/services/bootstrap"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/treasury"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// migrate applies every schema, seeds the treasury header and exits.
func main() {
	var svc *bootstrap.Service

	app := fx.New(
		config.VaultModule,
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Provide(
			bootstrap.NewService,
			staticQuoter,
		),
		treasury.Module,
		fx.Populate(&svc),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
	if err := app.Err(); err != nil {
		log.Fatalf("failed to build migrate app: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if err := svc.Run(ctx); err != nil {
		zap.L().Fatal("migration failed", zap.Error(err))
	}
	zap.L().Info("migration complete")
}

// staticQuoter satisfies the treasury dependency; seeding never prices tokens.
func staticQuoter(cfg *config.Config) pricing.Quoter {
	return pricing.Static(decimal.NewFromFloat(cfg.Pricing.FallbackPrice))
}
