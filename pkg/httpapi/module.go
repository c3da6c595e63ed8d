package httpapi

import (
	"bizops-incentives/pkg/health"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Module mounts the operational endpoints at the root of the engine, outside
// the /api group and its authentication.
var Module = fx.Module("httpapi",
	health.Module,
	fx.Invoke(registerOperationalEndpoints),
)

func registerOperationalEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
