package wallet

import (
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("wallet.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

type routeParams struct {
	fx.In

	Router  *gin.RouterGroup `name:"api"`
	Handler *Handler
}

func registerRoutes(p routeParams) {
	p.Handler.Register(p.Router.Group("/wallet", middleware.RequireUser()))
}
