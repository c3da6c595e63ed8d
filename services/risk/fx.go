package risk

import (
	"bizops-incentives/pkg/authz"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("risk.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("risk.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

type routeParams struct {
	fx.In

	Router  *gin.RouterGroup `name:"api"`
	Authz   *authz.Authorizer
	Handler *Handler
}

func registerRoutes(p routeParams) {
	p.Handler.Register(p.Router.Group("/admin/risk", p.Authz.Require()))
}
