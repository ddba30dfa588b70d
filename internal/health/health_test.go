package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(false)
	var dbErr error
	m.AddCheck("database", func(context.Context) error { return dbErr })

	router := gin.New()
	router.GET("/healthz", LivenessHandler)
	router.GET("/readyz", ReadinessHandler(m))

	probe := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, probe("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, probe("/readyz").Code)

	m.SetReady(true)
	assert.Equal(t, http.StatusOK, probe("/readyz").Code)

	dbErr = errors.New("connection refused")
	rec := probe("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
