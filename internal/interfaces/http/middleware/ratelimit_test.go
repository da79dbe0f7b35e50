package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLimiter_BurstThenDeny(t *testing.T) {
	l := NewKeyedLimiter(1, 2, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, info := l.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 2, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	ok, _ = l.Allow("a")
	assert.True(t, ok)

	ok, info = l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.True(t, info.ResetAt.After(now))

	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "one token refilled after a second")
}

func TestKeyedLimiter_DefaultBurst(t *testing.T) {
	l := NewKeyedLimiter(2.5, 0, 0)
	assert.Equal(t, 3, l.burst)
}

func TestKeyedLimiter_EvictsIdleKeys(t *testing.T) {
	l := NewKeyedLimiter(10, 10, 0)
	l.idle = time.Minute
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(2 * time.Minute)
	l.Allow("new")
	l.evictIdle()

	assert.Equal(t, 1, l.Len())
}

func TestKeyedLimiter_StopIsIdempotent(t *testing.T) {
	l := NewKeyedLimiter(1, 1, time.Hour)
	assert.NotPanics(t, func() {
		l.Stop()
		l.Stop()
	})
}

func newLimitedEngine(limiter RateLimiter, cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), RateLimit(limiter, cfg))
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimit_Middleware(t *testing.T) {
	r := newLimitedEngine(NewKeyedLimiter(0.001, 1, 0), RateLimitConfig{SkipPaths: []string{"/healthz"}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"COMMON_007"`)
	assert.Contains(t, rec.Body.String(), rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_CustomKey(t *testing.T) {
	r := newLimitedEngine(NewKeyedLimiter(0.001, 1, 0), RateLimitConfig{
		KeyFunc: func(c *gin.Context) string { return c.GetHeader("X-Client") },
	})

	for _, client := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, client)
	}
}
