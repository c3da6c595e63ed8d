package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func readiness(t *testing.T, svc HealthService) (*httptest.ResponseRecorder, Health) {
	r := gin.New()
	r.GET("/readyz", svc.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestReadinessWithoutDeps(t *testing.T) {
	w, body := readiness(t, ProvideHealth(HealthParams{}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, StatusHealthy, body.Status)
	require.Empty(t, body.Deps)
}

func TestReadinessReportsDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:health?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	w, body := readiness(t, ProvideHealth(HealthParams{DB: db}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body.Deps, 1)
	require.Equal(t, "database:sqlite", body.Deps[0].Name)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, body = readiness(t, ProvideHealth(HealthParams{DB: db}))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, StatusUnhealthy, body.Status)
	require.Equal(t, StatusUnhealthy, body.Deps[0].Status)
}
