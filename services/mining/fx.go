package mining

import (
	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("mining.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("mining.gateway",
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
	p.Handler.Register(p.Router.Group("/mining", middleware.RequireUser()))
	p.Handler.RegisterAdmin(p.Router.Group("/admin/mining", p.Authz.Require()))
}
