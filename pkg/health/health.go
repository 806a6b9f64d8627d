package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/utafrali/rentchain/pkg/httputil"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the JSON body of the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

type check struct {
	fn       Checker
	critical bool
}

// Handler serves liveness and readiness endpoints. Readiness fails (503) only
// when a critical check fails; a failing non-critical check reports degraded.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
}

// NewHandler creates a handler whose readiness checks share a 5s deadline.
func NewHandler() *Handler {
	return &Handler{checks: make(map[string]check), timeout: 5 * time.Second}
}

// RegisterCritical adds a check that must pass for the service to be ready.
func (h *Handler) RegisterCritical(name string, fn Checker) {
	h.register(name, fn, true)
}

// RegisterNonCritical adds a check whose failure only degrades readiness.
func (h *Handler) RegisterNonCritical(name string, fn Checker) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn Checker, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: critical}
}

// LivenessHandler always returns 200 while the process is serving.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: time.Now().UTC()})
	}
}

// ReadinessHandler runs every registered check concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())

		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}

// Check runs all checks and aggregates their results.
func (h *Handler) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	snapshot := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		snapshot[name] = c
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(snapshot))
	)
	for name, c := range snapshot {
		wg.Add(1)
		go func(name string, c check) {
			defer wg.Done()
			res := CheckResult{Status: StatusUp, Critical: c.critical}
			if err := c.fn(ctx); err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	overall := StatusUp
	for _, res := range results {
		if res.Status != StatusDown {
			continue
		}
		if res.Critical {
			overall = StatusDown
			break
		}
		overall = StatusDegraded
	}

	return Response{Status: overall, Timestamp: time.Now().UTC(), Checks: results}
}
