// Package health exposes liveness and readiness probes for HTTP services.
//
// Probes run on a background ticker, one goroutine per probe. A probe flips
// to unhealthy only after several consecutive failures and back to healthy
// after a consecutive success, which keeps flaky dependencies from bouncing
// the service in and out of the load balancer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Probe thresholds, matching Kubernetes defaults.
const (
	failureThreshold = 3
	successThreshold = 1
)

// probe is one registered check plus its runtime state.
//
// tick is only ever called from the probe's own goroutine, so the consecutive
// counters need no locking. ok and lastErr cross goroutines into the HTTP
// handlers and use atomics.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	ok      atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newProbe(name string, timeout time.Duration, fn CheckFunc) *probe {
	p := &probe{name: name, timeout: timeout, fn: fn}
	// Until the first failure streak, assume the dependency is up.
	p.ok.Store(true)
	return p
}

// tick runs the check once and applies the thresholds.
func (p *probe) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	p.lastErr.Store(&err)

	if err == nil {
		p.fails = 0
		p.successes++
		if p.successes >= successThreshold {
			p.ok.Store(true)
		}
		return
	}
	p.successes = 0
	p.fails++
	if p.fails >= failureThreshold {
		p.ok.Store(false)
	}
}

// failure returns the message to report for this probe, or "" when healthy.
func (p *probe) failure() string {
	if p.ok.Load() {
		return ""
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is unhealthy"
}

// Health aggregates liveness and readiness probes and serves them over HTTP.
// The zero value is unusable; construct with New.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health that reports not-ready until SetReady(true) is called.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe served on /livez. Liveness probes answer
// "is this process worth keeping alive" (goroutine leaks, deadlocks).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, fn))
}

// AddReadinessCheck registers a probe served on /readyz. Readiness probes
// answer "can this process serve traffic right now" (database, cache).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, fn))
}

// Start launches one goroutine per registered probe, each ticking at
// interval. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			t := time.NewTicker(interval)
			defer t.Stop()

			p.tick(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					p.tick(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the probe goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Services call SetReady(true)
// after startup and SetReady(false) at the top of graceful shutdown so the
// load balancer drains them before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()
	for _, p := range probes {
		if !p.ok.Load() {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe result: 200 when every liveness
// check passes, 503 with per-check errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.liveness...)
	h.mu.RUnlock()

	serveStatus(w, gatherFailures(probes))
}

// ReadyEndpoint serves the readiness probe result. It fails when the manual
// gate is closed or any readiness check is failing.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.readiness...)
	h.mu.RUnlock()

	failures := gatherFailures(probes)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	serveStatus(w, failures)
}

func gatherFailures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if msg := p.failure(); msg != "" {
			failures[p.name] = msg
		}
	}
	return failures
}

func serveStatus(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
