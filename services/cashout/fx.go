package cashout

import (
	"context"
	"time"

	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/middleware"
	"bizops-incentives/pkg/scheduler"
	"bizops-incentives/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("cashout.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("cashout.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

// Worker registers the cashout task handlers on the asynq mux and the sweep
// that re-enqueues requests left pending by a queue outage.
var Worker = fx.Module("cashout.worker",
	fx.Invoke(registerTasks, registerJobs),
)

type routeParams struct {
	fx.In

	Router  *gin.RouterGroup `name:"api"`
	Handler *Handler
	Authz   *authz.Authorizer
}

func registerRoutes(p routeParams) {
	p.Handler.Register(p.Router.Group("/cashouts", middleware.RequireUser()))
	p.Handler.RegisterAdmin(p.Router.Group("/admin/cashouts", p.Authz.Require()))
	p.Handler.RegisterWebhook(p.Router.Group("/webhooks"))
}

func registerTasks(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.CashoutProcess, svc.HandleProcessTask)
}

func registerJobs(s gocron.Scheduler, cfg *config.Config, svc *Service) error {
	interval := cfg.Cashout.StaleAfter / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	return scheduler.Every(s, taskname.CashoutStaleSweep, interval, func(ctx context.Context) error {
		_, err := svc.EnqueueStale(ctx)
		return err
	})
}
