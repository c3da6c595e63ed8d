package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db      *gorm.DB
	redis   *redis.Client
	vault   *vault.Client
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:      p.DB,
		redis:   p.Redis,
		vault:   p.Vault,
		timeout: 2 * time.Second,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness pings every configured dependency and answers 503 when any of
// them is down.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report := h.check(ctx)
	code := http.StatusOK
	if report.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (h *health) check(ctx context.Context) *Health {
	deps := make([]Dependency, 0, 3)
	if h.db != nil {
		deps = append(deps, probe("database:"+h.db.Name(), func() error {
			sqlDB, err := h.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if h.redis != nil {
		deps = append(deps, probe("redis", func() error {
			return h.redis.Ping(ctx).Err()
		}))
	}
	if h.vault != nil {
		deps = append(deps, probe("vault", func() error {
			_, err := h.vault.System.ReadHealthStatus(ctx)
			return err
		}))
	}

	report := &Health{Status: StatusHealthy, Message: "OK", Deps: deps}
	for _, d := range deps {
		if d.Status != StatusHealthy {
			report.Status = StatusUnhealthy
			report.Message = d.Name + " unavailable"
			break
		}
	}
	return report
}

func probe(name string, fn func() error) Dependency {
	dep := Dependency{Name: name, Status: StatusHealthy, Message: "OK"}
	if err := fn(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}
