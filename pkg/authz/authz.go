// Package authz guards operator routes with casbin role policies. Roles come
// from the identity headers; a request passes when any of its roles is
// allowed on the route path and method.
package authz

import (
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authz", fx.Provide(NewAuthorizer))

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch2(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

var defaultPolicies = [][]string{
	{"admin", "/api/*", "*"},
	{"treasurer", "/api/treasury/*", "*"},
	{"treasurer", "/api/admin/cashouts/*", "*"},
	{"finance", "/api/admin/cashouts/*", "*"},
	{"finance", "/api/admin/faucet/*", "*"},
	{"analyst", "/api/treasury/*", "GET"},
	{"analyst", "/api/admin/risk/*", "GET"},
}

type Authorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer loads ACCESS_CONTROL.MODEL and ACCESS_CONTROL.POLICY files
// when both are set, otherwise the built-in model and policies.
func NewAuthorizer(cfg *config.Config) (*Authorizer, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		e, err := casbin.NewEnforcer(ac.Model, ac.Policy)
		if err != nil {
			zap.L().Error("failed to load access control policy", zap.String("model", ac.Model), zap.Error(err))
			return nil, err
		}
		return &Authorizer{enforcer: e}, nil
	}

	return NewDefault()
}

func NewDefault() (*Authorizer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}

	return &Authorizer{enforcer: e}, nil
}

func (a *Authorizer) Allowed(roles []string, path, method string) bool {
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(role, path, method)
		if err != nil {
			zap.L().Error("access control check failed", zap.String("role", role), zap.Error(err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Require is the gin middleware for operator route groups. It must run after
// middleware.IdentityContext.
func (a *Authorizer) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.CurrentIdentity(c)
		if id.UserID == "" {
			_ = c.Error(errutil.Unauthorized("missing user identity", nil))
			c.Abort()
			return
		}

		if !a.Allowed(id.Roles, c.Request.URL.Path, c.Request.Method) {
			zap.L().Warn("access denied",
				zap.String("user_id", id.UserID),
				zap.Strings("roles", id.Roles),
				zap.String("path", c.Request.URL.Path),
			)
			_ = c.Error(errutil.Forbidden("not allowed", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
