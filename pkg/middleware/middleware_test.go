package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizops-incentives/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestErrorRendersBaseError(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(errutil.Conflict("already claimed", nil))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("db exploded"))
	})
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), `"code":"conflict"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db exploded")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireUser(t *testing.T) {
	r := gin.New()
	r.Use(Error(), IdentityContext())
	r.GET("/me", RequireUser(), func(c *gin.Context) {
		id := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user": id.UserID, "admin": id.HasRole("admin")})
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserID, "u-1")
	req.Header.Set(HeaderRoles, "user, admin")
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user":"u-1","admin":true}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	require.True(t, rl.Allow("a"))

	now = now.Add(time.Hour)
	rl.Cleanup()
	require.Empty(t, rl.limiters)
}
