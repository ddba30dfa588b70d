package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/config"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/pkg/response"
	"github.com/oklog/ulid/v2"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader      = "X-Request-ID"
	TransactionNumHeader = "X-Transaction-Num"

	requestIDKey = "requestID"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client and route
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// Configure limits per endpoint type
	tradingLimit rate.Limit
	tradingBurst int
	queryLimit   rate.Limit
	queryBurst   int
}

// NewLimiter builds a Limiter from per-minute limits. A limit of zero or
// less disables limiting for that group.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{visitors: make(map[string]*visitor)}
	l.tradingLimit, l.tradingBurst = perMinute(cfg.TradingPerMinute)
	l.queryLimit, l.queryBurst = perMinute(cfg.QueryPerMinute)
	return l
}

func perMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		return rate.Inf, 0
	}
	burst := n / 10
	if burst < 1 {
		burst = 1
	}
	return rate.Limit(float64(n) / 60.0), burst
}

func (l *Limiter) getLimiter(method, path, clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := clientIP + ":" + method + ":" + path
	v, exists := l.visitors[key]

	if !exists {
		limit, burst := rate.Inf, 0
		switch {
		case !strings.HasPrefix(path, "/api/v1"):
			// probes and metrics are never limited
		case method == http.MethodGet:
			limit, burst = l.queryLimit, l.queryBurst
		default:
			limit, burst = l.tradingLimit, l.tradingBurst
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		l.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops visitors idle for longer than idle
func (l *Limiter) Cleanup(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(l.visitors, key)
		}
	}
}

// RunCleanup calls Cleanup every minute until done is closed
func (l *Limiter) RunCleanup(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.Cleanup(3 * time.Minute)
		}
	}
}

func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := l.getLimiter(c.Request.Method, c.FullPath(), c.ClientIP())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestID propagates the caller's request id or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// TransactionNum puts the workload transaction number on the request
// context so every audit record of the request carries it. Requests
// without one get a fresh ulid.
func TransactionNum() gin.HandlerFunc {
	return func(c *gin.Context) {
		num := c.GetHeader(TransactionNumHeader)
		if num == "" {
			num = ulid.Make().String()
		}
		c.Request = c.Request.WithContext(audit.WithTransactionNum(c.Request.Context(), num))
		c.Header(TransactionNumHeader, num)
		c.Next()
	}
}

// Logger writes one access log line per request and records request metrics
func Logger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, c.Writer.Status(), latency)

		event := zlog.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = zlog.Error()
		}
		event.
			Str("request_id", c.GetString(requestIDKey)).
			Str("transaction_num", audit.TransactionNum(c.Request.Context())).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Msg("request")
	}
}

// Recovery turns a panic into a 500 envelope
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		zlog.Error().
			Interface("panic", recovered).
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.Request.URL.Path).
			Msg("recovered from panic")
		response.InternalError(c, "An unexpected error occurred")
		c.Abort()
	})
}
