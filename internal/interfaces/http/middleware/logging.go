// Package middleware holds the Gin middleware of the HTTP API.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
)

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are not logged (probes, metrics scrapes).
	SkipPaths []string

	// SlowThreshold is the duration above which a request is logged at warn.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips the probe and metrics paths.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// RequestLogging logs one entry per request. 5xx responses log at error,
// 4xx and slow requests at warn.
func RequestLogging(logger logging.Logger, config LoggingConfig) gin.HandlerFunc {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}

	return func(c *gin.Context) {
		if skipSet[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.String("route", c.FullPath()),
			logging.Int("status", status),
			logging.Duration("duration", duration),
			logging.Int("bytes", c.Writer.Size()),
			logging.String("client_ip", c.ClientIP()),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, logging.String("user_agent", ua))
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, logging.String("errors", errs.String()))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("HTTP request completed with server error", fields...)
		case status >= 400:
			log.Warn("HTTP request completed with client error", fields...)
		case config.SlowThreshold > 0 && duration >= config.SlowThreshold:
			log.Warn("HTTP request completed (slow)", fields...)
		default:
			log.Info("HTTP request completed", fields...)
		}
	}
}
