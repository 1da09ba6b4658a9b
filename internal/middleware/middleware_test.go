package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())

	var fromContext, fromGin string
	router.GET("/ping", func(c *gin.Context) {
		fromContext = CorrelationIDFromContext(c.Request.Context())
		fromGin = GetCorrelationID(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(CorrelationIDHeader))
	assert.Equal(t, "abc-123", fromContext)
	assert.Equal(t, "abc-123", fromGin)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(CorrelationIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, fromContext)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	router := gin.New()
	router.Use(CorrelationID(), RequestLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"path":"/missing"`)
	assert.Contains(t, buf.String(), `"status":404`)
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(RateLimiterConfig{RPM: 1, Burst: 2})
	t.Cleanup(limiter.Stop)

	router := gin.New()
	router.Use(limiter.RateLimit())
	router.GET("/charts", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/charts", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := do("10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	limited := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Contains(t, limited.Body.String(), `"code":500`)

	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
	assert.Equal(t, 2, limiter.GetStats().ActiveClients)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{CleanupInterval: time.Minute})
	t.Cleanup(limiter.Stop)

	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }

	limiter.clientLimiter("ip:a")
	now = now.Add(2 * time.Minute)
	limiter.clientLimiter("ip:b")

	limiter.evictIdle()
	stats := limiter.GetStats()
	require.Equal(t, 1, stats.ActiveClients)
}

func TestEndpointRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	erl := NewEndpointRateLimiter(RateLimiterConfig{RPM: 600, Burst: 100})
	erl.AddEndpoint("/strict", RateLimiterConfig{RPM: 1, Burst: 1})
	t.Cleanup(erl.Stop)

	router := gin.New()
	router.Use(erl.RateLimitByPath())
	router.GET("/strict", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/loose", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("/strict"))
	assert.Equal(t, http.StatusTooManyRequests, do("/strict"))
	assert.Equal(t, http.StatusOK, do("/loose"))
	assert.Equal(t, http.StatusOK, do("/loose"))
}
