// Package health tracks liveness and readiness of the daemon.
//
// Docker and Kubernetes poll /healthz for liveness and /readyz for
// readiness. Readiness requires the ready flag and every named check to
// pass; checks are things like "wyoming listener bound" or "tts_start.mp3
// present". The same state can be mirrored onto a grpc.health.v1 service.
package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
)

// Checker holds the ready flag and the named readiness checks.
type Checker struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]bool
	subs   []func(ready bool)
}

// New creates a Checker that is not yet ready.
func New() *Checker {
	return &Checker{checks: make(map[string]bool)}
}

// SetReady marks the daemon as started (or stopping).
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
	c.notify()
}

// Set records the outcome of a named check.
func (c *Checker) Set(name string, ok bool) {
	c.mu.Lock()
	c.checks[name] = ok
	c.mu.Unlock()
	c.notify()
}

// Ready reports overall readiness and a snapshot of the checks.
func (c *Checker) Ready() (bool, map[string]bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := c.ready.Load()
	for _, v := range c.checks {
		ok = ok && v
	}
	return ok, maps.Clone(c.checks)
}

// Subscribe calls fn with the current readiness and again on every change.
func (c *Checker) Subscribe(fn func(ready bool)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
	ok, _ := c.Ready()
	fn(ok)
}

func (c *Checker) notify() {
	ok, _ := c.Ready()
	c.mu.RLock()
	subs := append([](func(bool))(nil), c.subs...)
	c.mu.RUnlock()
	for _, fn := range subs {
		fn(ok)
	}
}

type status struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
}

// Register mounts /healthz and /readyz on mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, status{Status: "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ok, checks := c.Ready()
		if !ok {
			writeStatus(w, http.StatusServiceUnavailable, status{Status: "not_ready", Checks: checks})
			return
		}
		writeStatus(w, http.StatusOK, status{Status: "ok", Checks: checks})
	})
}

func writeStatus(w http.ResponseWriter, code int, s status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}
