package faucet

import (
	"bizops-incentives/pkg/authz"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("faucet.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("faucet.gateway",
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
	p.Handler.Register(p.Router.Group("/faucet", middleware.RequireUser()))
	p.Handler.RegisterAdmin(p.Router.Group("/admin/faucet", p.Authz.Require()))
}
