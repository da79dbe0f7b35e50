package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// RateLimiter decides whether a request with key may proceed.
type RateLimiter interface {
	Allow(key string) (bool, RateLimitInfo)
}

// RateLimitInfo contains current rate limit state for a given key.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64
	// BurstSize is the maximum burst above the sustained rate.
	BurstSize int
	// KeyFunc extracts the limiter key. Defaults to the client IP.
	KeyFunc func(c *gin.Context) string
	// SkipPaths bypass rate limiting.
	SkipPaths []string
	// CleanupInterval is how often idle keys are evicted.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns a per-IP limit of 10 rps with bursts of 20.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		CleanupInterval:   5 * time.Minute,
	}
}

func clientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key.
type KeyedLimiter struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	mu      sync.Mutex
	entries map[string]*limiterEntry
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewKeyedLimiter creates a limiter allowing rps requests per second per
// key with the given burst. A positive cleanupInterval starts a goroutine
// that evicts keys idle for longer than the interval; Stop ends it.
func NewKeyedLimiter(rps float64, burst int, cleanupInterval time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	l := &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    cleanupInterval,
		entries: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow consumes one token for key.
func (l *KeyedLimiter) Allow(key string) (bool, RateLimitInfo) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)

	info := RateLimitInfo{Limit: l.burst, Remaining: int(math.Max(0, math.Floor(tokens)))}
	if tokens < 1 && l.limit > 0 {
		wait := time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))
		info.ResetAt = now.Add(wait)
	} else {
		info.ResetAt = now
	}
	return allowed, info
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop ends the cleanup goroutine.
func (l *KeyedLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *KeyedLimiter) evictIdle() {
	threshold := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(threshold) {
			delete(l.entries, key)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and a Retry-After
// header. Every limited response carries the X-RateLimit-* headers.
func RateLimit(limiter RateLimiter, config RateLimitConfig) gin.HandlerFunc {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = clientIPKey
	}

	return func(c *gin.Context) {
		if skipSet[c.Request.URL.Path] {
			c.Next()
			return
		}

		allowed, info := limiter.Allow(keyFunc(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(math.Ceil(time.Until(info.ResetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			resp := common.NewErrorResponse(string(errors.ErrCodeTooManyRequests), "rate limit exceeded, please retry later")
			resp.RequestID = handlers.RequestID(c)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}
		c.Next()
	}
}
