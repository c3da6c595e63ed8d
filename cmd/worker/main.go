package main

import (
	"log"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/gen"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/profiling"
	"bizops-incentives/pkg/redis"
	"bizops-incentives/pkg/scheduler"
	"bizops-incentives/pkg/sequence"
	"bizops-incentives/pkg/task"
	"bizops-incentives/services/cashout"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/treasury"
	"bizops-incentives/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// The worker drains the cashout queue and runs the periodic jobs: treasury
// health snapshots and the stale cashout sweep.
func main() {
	opts := []fx.Option{
		config.VaultModule,
		config.Module,
		logger.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,
		scheduler.Module,
		pricing.Module,

		treasury.Module,
		treasury.Jobs,
		wallet.Module,
		cashout.Module,
		cashout.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
