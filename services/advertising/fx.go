package advertising

import (
	"context"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("advertising.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("advertising.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

type routeParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Router    *gin.RouterGroup `name:"api"`
	Config    *config.Config
	Handler   *Handler
}

// Ad tracking is hit by every page view, so it carries its own rate limit.
func registerRoutes(p routeParams) {
	limiter := middleware.NewRateLimiter(p.Config.RateLimit.RPS, p.Config.RateLimit.Burst)

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			limiter.StartCleanup(ctx, time.Minute)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	p.Handler.Register(p.Router.Group("/ads", middleware.RequireUser(), limiter.Handler()))
	p.Handler.RegisterWebhook(p.Router.Group("/webhooks"))
}
