// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes.
//
// Both respond with a JSON object holding a "status" of "ok" or "fail" and,
// for /readyz, a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/convene/internal/resilience"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	// Name keys the check in the JSON response, e.g. "store".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by stores and blob backends that can verify their
// connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a [Checker] calling p.Ping.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerChecker returns a [Checker] that fails while cb is open, so traffic
// is steered away from an instance whose model backend keeps failing.
func BreakerChecker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if s := cb.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction; checks run concurrently on every /readyz request.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a [Handler] evaluating checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
}

// WithTimeout returns h with a different per-check timeout.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	h.timeout = d
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			outcome := "ok"
			if err := c.Check(ctx); err != nil {
				outcome = "fail: " + err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[c.Name] = outcome
			if outcome != "ok" {
				failed = true
			}
		})
	}
	wg.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, result{Status: "ok", Checks: checks})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
