// Package health reports whether the companion's dependencies are reachable.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Checker verifies that a dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Check is a named dependency. A failing optional check degrades the
// status without failing it.
type Check struct {
	Name     string
	Checker  Checker
	Optional bool
}

type Handler struct {
	checks  []Check
	logger  *slog.Logger
	timeout time.Duration
}

func NewHandler(logger *slog.Logger, checks ...Check) *Handler {
	return &Handler{checks: checks, logger: logger, timeout: 3 * time.Second}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

type Result struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Optional  bool   `json:"optional,omitempty"`
}

type Response struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

// Run executes every check concurrently.
func (h *Handler) Run(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		resp = Response{Status: StatusOK, Checks: make(map[string]Result, len(h.checks))}
		g    errgroup.Group
	)
	for _, c := range h.checks {
		g.Go(func() error {
			start := time.Now()
			err := c.Checker.Check(ctx)
			res := Result{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds(), Optional: c.Optional}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error("health check failed", "name", c.Name, "optional", c.Optional, "error", err)
				res.Status, res.Error = StatusError, err.Error()
				switch {
				case !c.Optional:
					resp.Status = StatusError
				case resp.Status == StatusOK:
					resp.Status = StatusDegraded
				}
			}
			resp.Checks[c.Name] = res
			return nil
		})
	}
	_ = g.Wait()
	return resp
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	status := http.StatusOK
	if resp.Status == StatusError {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
