package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker is a store that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependency is a store the readiness probe pings. A failing optional
// dependency is reported without failing the probe.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Optional bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps    []Dependency
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. A Dependency with a nil Checker
// is reported as not configured.
func NewHealthHandler(deps ...Dependency) *HealthHandler {
	sorted := slices.Clone(deps)
	slices.SortStableFunc(sorted, func(a, b Dependency) int { return strings.Compare(a.Name, b.Name) })
	return &HealthHandler{deps: sorted, timeout: 5 * time.Second}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is up. GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency concurrently and answers 503 when a
// required one fails. GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		checks  = make(map[string]string, len(h.deps))
		healthy = true
	)
	var g errgroup.Group
	for _, dep := range h.deps {
		if dep.Checker == nil {
			mu.Lock()
			checks[dep.Name] = "not configured"
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			result := "ok"
			err := dep.Checker.Ping(ctx)
			if err != nil {
				result = "error: " + err.Error()
			}
			mu.Lock()
			checks[dep.Name] = result
			if err != nil && !dep.Optional {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}
