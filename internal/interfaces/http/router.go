// Package http exposes the extraction service over a Gin REST API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/middleware"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unregistered.
type RouterConfig struct {
	// Handlers
	ExtractionHandler *handlers.ExtractionHandler
	HealthHandler     *handlers.HealthHandler

	// Middleware
	Logging     middleware.LoggingConfig
	RateLimiter middleware.RateLimiter
	RateLimit   middleware.RateLimitConfig
	MaxBodySize int64

	// Infrastructure
	Mode             string
	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
}

// NewRouter builds the Gin engine. Global middleware runs in the order
// request id, recovery, metrics, logging, rate limit.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	r.Use(middleware.RequestLogging(logger, cfg.Logging))
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit))
	}

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	api := r.Group("/api/v1")
	api.Use(middleware.MaxBodySize(cfg.MaxBodySize))
	if cfg.ExtractionHandler != nil {
		cfg.ExtractionHandler.RegisterRoutes(api)
	}

	r.NoRoute(func(c *gin.Context) {
		writeStatus(c, http.StatusNotFound, errors.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		writeStatus(c, http.StatusMethodNotAllowed, errors.ErrCodeBadRequest, "method not allowed")
	})
	return r
}

func writeStatus(c *gin.Context, status int, code errors.ErrorCode, msg string) {
	resp := common.NewErrorResponse(string(code), msg)
	resp.RequestID = handlers.RequestID(c)
	c.JSON(status, resp)
}
