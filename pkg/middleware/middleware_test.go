package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitPerGroup(t *testing.T) {
	limiter := NewLimiter(config.RateLimitConfig{TradingPerMinute: 5, QueryPerMinute: 0})
	router := gin.New()
	router.Use(RateLimit(limiter))
	router.POST("/api/v1/users/:user_id/buy", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/users/:user_id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Burst of one for five per minute
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/users/alice/buy", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodPost, "/api/v1/users/bob/buy", nil).Code)

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/users/alice", nil).Code)
		require.Equal(t, http.StatusOK, do(router, http.MethodGet, "/healthz", nil).Code)
	}
}

func TestLimiterCleanup(t *testing.T) {
	limiter := NewLimiter(config.RateLimitConfig{TradingPerMinute: 60})
	limiter.getLimiter(http.MethodPost, "/api/v1/users/:user_id/buy", "10.0.0.1")
	require.Len(t, limiter.visitors, 1)

	limiter.visitors["10.0.0.1:POST:/api/v1/users/:user_id/buy"].lastSeen = time.Now().Add(-time.Hour)
	limiter.Cleanup(3 * time.Minute)
	assert.Empty(t, limiter.visitors)
}

func TestRequestAndTransactionIDs(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), TransactionNum())

	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen = audit.TransactionNum(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := do(router, http.MethodGet, "/x", http.Header{TransactionNumHeader: {"42"}})
	assert.Equal(t, "42", seen)
	assert.Equal(t, "42", rec.Header().Get(TransactionNumHeader))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(router, http.MethodGet, "/x", http.Header{RequestIDHeader: {"req-1"}})
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Len(t, seen, 26, "a ulid is assigned when no number is sent")
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Logger(nil), Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := do(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
