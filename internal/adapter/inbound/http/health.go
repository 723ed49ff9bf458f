package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/driftline/driftline/internal/service"
)

// Pinger is the slice of the store the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string                      `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string           `json:"checks"`
	Jobs    map[string]service.JobState `json:"jobs,omitempty"`
	Version string                      `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store     Pinger
	scheduler *service.Scheduler
	version   string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(store Pinger, scheduler *service.Scheduler, version string) *HealthChecker {
	return &HealthChecker{store: store, scheduler: scheduler, version: version}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["store"] = "unreachable"
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not configured"
	}

	resp := HealthResponse{Checks: checks, Version: h.version}
	if h.scheduler != nil {
		resp.Jobs = h.scheduler.JobStates()
		checks["scheduler"] = "ok"
	} else {
		checks["scheduler"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	resp.Status = "healthy"
	if !healthy {
		resp.Status = "unhealthy"
	}
	return resp
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})
}
