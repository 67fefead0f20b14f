// Package timer provides per-job cancellable delayed callbacks. It is a pure
// scheduling primitive: a timer fires at most once, cancellation is
// idempotent, and at most one live timer exists per (job, kind) pair.
package timer

import (
	"sync"
	"time"
)

// Kind distinguishes the two client-side deadlines tracked per job.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindAnalysis Kind = "analysis"
)

type timerKey struct {
	jobID string
	kind  Kind
}

// Registry owns all live timers, keyed by (job id, kind).
type Registry struct {
	clock  Clock
	mu     sync.Mutex
	timers map[timerKey]*Handle
}

// NewRegistry creates a Registry driven by the given clock.
func NewRegistry(clock Clock) *Registry {
	return &Registry{
		clock:  clock,
		timers: make(map[timerKey]*Handle),
	}
}

// Handle identifies one armed timer. Cancel is safe to call any number of
// times, including after the timer has fired.
type Handle struct {
	registry *Registry
	key      timerKey

	mu       sync.Mutex
	stopper  Stopper
	fired    bool
	canceled bool
}

// Arm schedules onExpire to run after d. If a timer is already armed for the
// same (jobID, kind) pair it is cancelled first. onExpire runs at most once
// and never after Cancel has returned; it must not call back into the handle.
func (r *Registry) Arm(jobID string, kind Kind, d time.Duration, onExpire func()) *Handle {
	key := timerKey{jobID: jobID, kind: kind}

	r.mu.Lock()
	prev := r.timers[key]
	h := &Handle{registry: r, key: key}
	r.timers[key] = h
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	h.mu.Lock()
	h.stopper = r.clock.AfterFunc(d, func() { h.fire(onExpire) })
	h.mu.Unlock()

	return h
}

// Cancel stops the timer if it has not fired. Once Cancel returns, the
// expiration callback either already completed or will never run.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired || h.canceled {
		return
	}
	h.canceled = true
	if h.stopper != nil {
		h.stopper.Stop()
	}
	h.registry.remove(h.key, h)
}

// fire runs the callback under the handle lock so that a concurrent Cancel
// blocks until the callback is done; callers observing Cancel's return are
// then guaranteed the callback is no longer running.
func (h *Handle) fire(onExpire func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled || h.fired {
		return
	}
	h.fired = true
	h.registry.remove(h.key, h)
	onExpire()
}

// remove drops h from the table, but only if it is still the registered timer
// for its key; a newer Arm for the same pair must not be evicted.
func (r *Registry) remove(key timerKey, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timers[key] == h {
		delete(r.timers, key)
	}
}

// Live reports whether a timer is currently armed for the pair. Intended for
// tests and diagnostics.
func (r *Registry) Live(jobID string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[timerKey{jobID: jobID, kind: kind}]
	return ok
}
