package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func TestAllowed(t *testing.T) {
	a, err := NewDefault()
	require.NoError(t, err)

	require.True(t, a.Allowed([]string{"admin"}, "/api/risk/logs", http.MethodGet))
	require.True(t, a.Allowed([]string{"user", "treasurer"}, "/api/treasury/deposits", http.MethodPost))
	require.True(t, a.Allowed([]string{"analyst"}, "/api/treasury/summary", http.MethodGet))
	require.False(t, a.Allowed([]string{"analyst"}, "/api/treasury/deposits", http.MethodPost))
	require.False(t, a.Allowed([]string{"user"}, "/api/treasury/summary", http.MethodGet))
	require.False(t, a.Allowed(nil, "/api/treasury/summary", http.MethodGet))
}

func TestRequire(t *testing.T) {
	a, err := NewDefault()
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error(), middleware.IdentityContext())
	r.GET("/api/treasury/summary", a.Require(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		user   string
		roles  string
		status int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"plain user", "u1", "user", http.StatusForbidden},
		{"treasurer", "u2", "treasurer", http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/treasury/summary", nil)
			if tc.user != "" {
				req.Header.Set(middleware.HeaderUserID, tc.user)
			}
			req.Header.Set(middleware.HeaderRoles, tc.roles)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
		})
	}
}
