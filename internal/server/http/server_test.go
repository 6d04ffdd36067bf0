package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	httpserver "github.com/Additional-Code/loadmatch/internal/server/http"
	"github.com/Additional-Code/loadmatch/internal/testutil"
)

func TestNewEcho(t *testing.T) {
	conns := testutil.OpenDB(t)
	e := httpserver.NewEcho(config.Config{}, nil, conns, zap.NewNop())

	t.Run("should report healthy database", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"OK","database":"ok"}`, rec.Body.String())
	})

	t.Run("should render unknown routes in the envelope", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body struct {
			Success bool `json:"success"`
			Error   struct {
				Kind string `json:"kind"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "not_found", body.Error.Kind)
	})

	t.Run("should recover from panics", func(t *testing.T) {
		e.GET("/panic", func(echo.Context) error { panic("boom") })

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("should report closed database as unavailable", func(t *testing.T) {
		require.NoError(t, conns.Close())

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
