package treasury

import (
	"context"

	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/scheduler"
	"bizops-incentives/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("treasury.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("treasury.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

// Jobs snapshots treasury health on TREASURY.HEALTH_INTERVAL.
var Jobs = fx.Module("treasury.jobs",
	fx.Invoke(registerJobs),
)

type routeParams struct {
	fx.In

	Router  *gin.RouterGroup `name:"api"`
	Authz   *authz.Authorizer
	Handler *Handler
}

func registerRoutes(p routeParams) {
	p.Handler.Register(p.Router.Group("/treasury", p.Authz.Require()))
}

func registerJobs(s gocron.Scheduler, cfg *config.Config, svc *Service) error {
	return scheduler.Every(s, taskname.TreasuryHealthSnapshot, cfg.Treasury.HealthInterval, func(ctx context.Context) error {
		_, err := svc.RecordHealth(ctx)
		return err
	})
}
