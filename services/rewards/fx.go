package rewards

import (
	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("rewards.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("rewards.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

type routeParams struct {
	fx.In

	Router  *gin.RouterGroup `name:"api"`
	Handler *Handler
	Authz   *authz.Authorizer
}

func registerRoutes(p routeParams) {
	p.Handler.Register(p.Router.Group("/rewards", middleware.RequireUser()))
	p.Handler.RegisterAdmin(p.Router.Group("/admin/rewards", p.Authz.Require()))
}
