package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and dependency state
type HealthHandler struct {
	serviceName string
	checks      map[string]HealthCheck
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		serviceName: deps.ServiceName,
		checks:      deps.HealthChecks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":  state,
		"service": h.serviceName,
		"checks":  results,
	})
}

// Root handles GET /
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.serviceName,
		"endpoints": []string{
			"POST /api/v1/jobs",
			"GET /api/v1/jobs/:job_id",
			"GET /api/v1/files/:filename",
			"GET /fast-audio?url=",
			"GET /health",
			"GET /metrics",
		},
	})
}
