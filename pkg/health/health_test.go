package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wecodesec-tools/services/testutil"
)

func probe(t *testing.T, db *gorm.DB, path string) (int, Health) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, ProvideHealth(HealthParams{DB: db}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var h Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	return w.Code, h
}

func TestLiveness(t *testing.T) {
	code, h := probe(t, nil, "/health")
	require.Equal(t, http.StatusOK, code)
	require.True(t, h.Success)
	require.Equal(t, "healthy", h.Status)
}

func TestReadiness(t *testing.T) {
	code, h := probe(t, testutil.NewTestDB(t), "/health/ready")
	require.Equal(t, http.StatusOK, code)
	require.True(t, h.Success)
	require.Len(t, h.Deps, 1)
	require.Equal(t, "database", h.Deps[0].Name)

	code, h = probe(t, testutil.ClosedDB(t), "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.False(t, h.Success)
	require.Equal(t, "unhealthy", h.Deps[0].Status)
}
