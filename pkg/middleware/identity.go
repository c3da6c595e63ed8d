package middleware

import (
	"context"
	"strings"

	"bizops-incentives/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Identity headers are set by the gateway after it authenticates the caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderRoles    = "X-User-Roles"
	HeaderDeviceID = "X-Device-ID"
)

type identityKey struct{}

type Identity struct {
	UserID    string
	Roles     []string
	DeviceID  string
	IP        string
	UserAgent string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func parseRoles(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// IdentityContext copies the identity headers into the request context.
func IdentityContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity{
			UserID:    strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Roles:     parseRoles(c.GetHeader(HeaderRoles)),
			DeviceID:  strings.TrimSpace(c.GetHeader(HeaderDeviceID)),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireUser rejects requests without an authenticated user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c.Request.Context())
		if !ok || id.UserID == "" {
			_ = c.Error(errutil.Unauthorized("missing user identity", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentIdentity is the handler-side accessor; it returns the zero Identity
// when IdentityContext did not run.
func CurrentIdentity(c *gin.Context) Identity {
	id, _ := IdentityFrom(c.Request.Context())
	return id
}
