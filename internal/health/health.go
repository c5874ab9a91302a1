// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass. With ?deep=1 the checkers added through
//     [Handler.WithDeep] run as well; these may call remote engines.
//   - /status: a JSON snapshot from the function set with
//     [Handler.WithStatus], for operators.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "database",
	// "providers"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	deep     []Checker
	status   func() any
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers run concurrently.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithStatus sets the snapshot served on /status. Must be called before the
// handler is registered.
func (h *Handler) WithStatus(fn func() any) *Handler {
	h.status = fn
	return h
}

// WithDeep adds checkers that only run for /readyz?deep=1. Must be called
// before the handler is registered.
func (h *Handler) WithDeep(checkers ...Checker) *Handler {
	h.deep = append(h.deep, checkers...)
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checkers := h.checkers
	if r.URL.Query().Has("deep") {
		checkers = append(slices.Clip(checkers), h.deep...)
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	res := result{Status: "ok", Checks: run(ctx, checkers)}
	code := http.StatusOK
	for _, v := range res.Checks {
		if v != "ok" {
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, res)
}

// run evaluates checkers concurrently and reports "ok" or "fail: <err>" per
// checker name.
func run(ctx context.Context, checkers []Checker) map[string]string {
	var mu sync.Mutex
	out := make(map[string]string, len(checkers))

	// Checkers report through the map; the group only bounds the wait.
	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			v := "ok"
			if err := c.Check(ctx); err != nil {
				v = "fail: " + err.Error()
			}
			mu.Lock()
			out[c.Name] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Status serves the snapshot set with [Handler.WithStatus], or 404 when none
// was set.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the /healthz, /readyz and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
