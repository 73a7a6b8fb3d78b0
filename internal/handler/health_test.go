package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type stubChecker struct{ err error }

func (s stubChecker) Ping(context.Context) error { return s.err }

// rendezvousChecker only answers once every peer has started pinging.
type rendezvousChecker struct {
	arrived *sync.WaitGroup
	all     chan struct{}
}

func (c rendezvousChecker) Ping(ctx context.Context) error {
	c.arrived.Done()
	select {
	case <-c.all:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func probe(t *testing.T, h *HealthHandler, path string) (int, HealthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if path == "/healthz" {
		h.Healthz(rec, req)
	} else {
		h.Readyz(rec, req)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, resp
}

func TestHealthz_IgnoresDependencies(t *testing.T) {
	t.Parallel()

	h := NewHealthHandler(Dependency{Name: "postgres", Checker: stubChecker{err: errors.New("down")}})
	code, resp := probe(t, h, "/healthz")
	if code != http.StatusOK || resp.Status != "ok" || resp.Checks != nil {
		t.Fatalf("healthz = %d %+v", code, resp)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	tests := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
		checks map[string]string
	}{
		{
			name: "all stores up",
			deps: []Dependency{
				{Name: "postgres", Checker: stubChecker{}},
				{Name: "redis", Checker: stubChecker{}},
				{Name: "mongo", Checker: stubChecker{}, Optional: true},
			},
			code:   http.StatusOK,
			status: "ok",
			checks: map[string]string{"postgres": "ok", "redis": "ok", "mongo": "ok"},
		},
		{
			name: "postgres down",
			deps: []Dependency{
				{Name: "postgres", Checker: stubChecker{err: refused}},
				{Name: "redis", Checker: stubChecker{}},
			},
			code:   http.StatusServiceUnavailable,
			status: "unhealthy",
			checks: map[string]string{"postgres": "error: connection refused", "redis": "ok"},
		},
		{
			name: "event log down stays ready",
			deps: []Dependency{
				{Name: "postgres", Checker: stubChecker{}},
				{Name: "mongo", Checker: stubChecker{err: refused}, Optional: true},
			},
			code:   http.StatusOK,
			status: "ok",
			checks: map[string]string{"postgres": "ok", "mongo": "error: connection refused"},
		},
		{
			name: "in-memory event log",
			deps: []Dependency{
				{Name: "redis", Checker: stubChecker{}},
				{Name: "mongo", Optional: true},
			},
			code:   http.StatusOK,
			status: "ok",
			checks: map[string]string{"redis": "ok", "mongo": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, resp := probe(t, NewHealthHandler(tt.deps...), "/readyz")
			if code != tt.code || resp.Status != tt.status {
				t.Fatalf("readyz = %d %q, want %d %q", code, resp.Status, tt.code, tt.status)
			}
			for name, want := range tt.checks {
				if resp.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_PingsConcurrently(t *testing.T) {
	t.Parallel()

	var arrived sync.WaitGroup
	arrived.Add(3)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	h := NewHealthHandler(
		Dependency{Name: "postgres", Checker: rendezvousChecker{&arrived, all}},
		Dependency{Name: "redis", Checker: rendezvousChecker{&arrived, all}},
		Dependency{Name: "mongo", Checker: rendezvousChecker{&arrived, all}},
	)
	h.timeout = 2 * time.Second

	if code, resp := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d %+v", code, resp)
	}
}
