package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// HealthChecker is a dependency that can report its health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (f CheckerFunc) Name() string                    { return f.ComponentName }
func (f CheckerFunc) Check(ctx context.Context) error { return f.Fn(ctx) }

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	timeout  time.Duration
	metrics  *prometheus.AppMetrics
}

// NewHealthHandler creates a HealthHandler over checkers.
func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		timeout:  5 * time.Second,
	}
}

// WithMetrics publishes each component status on the health_check_status gauge.
func (h *HealthHandler) WithMetrics(m *prometheus.AppMetrics) *HealthHandler {
	h.metrics = m
	return h
}

// RegisterRoutes registers the probe routes on r.
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/healthz/detail", h.Detailed)
}

// LivenessResponse is the response for the liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the response for the readiness and detail probes.
type ReadinessResponse struct {
	Status     common.HealthStatus               `json:"status"`
	Version    string                            `json:"version,omitempty"`
	Uptime     string                            `json:"uptime,omitempty"`
	Components map[string]common.ComponentHealth `json:"components,omitempty"`
}

// Liveness handles GET /healthz. It never checks dependencies.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  h.uptime(),
	})
}

// Readiness handles GET /readyz: 200 when every dependency is up, 503
// otherwise.
func (h *HealthHandler) Readiness(c *gin.Context) {
	status, components := h.evaluate(c.Request.Context())
	resp := ReadinessResponse{Status: status, Components: components}
	c.JSON(statusCode(status), resp)
}

// Detailed handles GET /healthz/detail.
func (h *HealthHandler) Detailed(c *gin.Context) {
	status, components := h.evaluate(c.Request.Context())
	c.JSON(statusCode(status), ReadinessResponse{
		Status:     status,
		Version:    h.version,
		Uptime:     h.uptime(),
		Components: components,
	})
}

func (h *HealthHandler) uptime() string {
	return time.Since(h.startAt).Truncate(time.Second).String()
}

func statusCode(s common.HealthStatus) int {
	if s == common.HealthUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (h *HealthHandler) evaluate(ctx context.Context) (common.HealthStatus, map[string]common.ComponentHealth) {
	if len(h.checkers) == 0 {
		return common.HealthUp, nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	components := h.checkAll(ctx)
	status := common.HealthUp
	for _, c := range components {
		if c.Status != common.HealthUp {
			status = common.HealthDown
		}
	}
	return status, components
}

// checkAll runs all checkers concurrently.
func (h *HealthHandler) checkAll(ctx context.Context) map[string]common.ComponentHealth {
	results := make(map[string]common.ComponentHealth, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			ch := common.ComponentHealth{
				Name:    c.Name(),
				Status:  common.HealthUp,
				Latency: time.Since(start),
			}
			if err != nil {
				ch.Status = common.HealthDown
				ch.Message = err.Error()
			}
			if h.metrics != nil {
				up := 0.0
				if err == nil {
					up = 1
				}
				h.metrics.HealthCheckStatus.WithLabelValues(c.Name()).Set(up)
			}

			mu.Lock()
			results[c.Name()] = ch
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}
