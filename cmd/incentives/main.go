package main

import (
	"log"

	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/chain"
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/featureflags"
	"bizops-incentives/pkg/gen"
	"bizops-incentives/pkg/httpapi"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/profiling"
	"bizops-incentives/pkg/minio"
	"bizops-incentives/pkg/otelcol"
	"bizops-incentives/pkg/redis"
	"bizops-incentives/pkg/sequence"
	"bizops-incentives/pkg/server"
	"bizops-incentives/pkg/task"
	"bizops-incentives/services/advertising"
	"bizops-incentives/services/bootstrap"
	"bizops-incentives/services/cashout"
	"bizops-incentives/services/faucet"
	"bizops-incentives/services/mining"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/rewards"
	"bizops-incentives/services/risk"
	"bizops-incentives/services/treasury"
	"bizops-incentives/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.VaultModule,
		config.Module,
		logger.Module,
		profiling.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		featureflags.Module,
		minio.Client,
		chain.Module,
		pricing.Module,
		authz.Module,

		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		httpapi.Module,

		treasury.Module,
		treasury.Gateway,
		wallet.Module,
		wallet.Gateway,
		risk.Module,
		risk.Gateway,
		advertising.Module,
		advertising.Gateway,
		rewards.Module,
		rewards.Gateway,
		mining.Module,
		mining.Gateway,
		cashout.Module,
		cashout.Gateway,
		faucet.Module,
		faucet.Gateway,

		bootstrap.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
