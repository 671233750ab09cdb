package scheduler

import (
	"sync"
	"time"
)

// Health tracks the last successful check across all targets. The
// scheduler is unhealthy when that grows older than StaleAfter while the
// last tick still found due targets.
type Health struct {
	mu          sync.Mutex
	staleAfter  time.Duration
	started     time.Time
	lastSuccess time.Time
	lastTick    time.Time
	lastDue     int
}

type HealthStatus struct {
	Healthy       bool       `json:"healthy"`
	Reason        string     `json:"reason,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastTickAt    *time.Time `json:"last_tick_at,omitempty"`
	DueTargets    int        `json:"due_targets"`
	StaleAfter    string     `json:"stale_after"`
}

func NewHealth(staleAfter time.Duration, now time.Time) *Health {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Health{staleAfter: staleAfter, started: now}
}

func (h *Health) Succeeded(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if at.After(h.lastSuccess) {
		h.lastSuccess = at
	}
}

func (h *Health) Ticked(at time.Time, due int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = at
	h.lastDue = due
}

func (h *Health) Status(now time.Time) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := HealthStatus{Healthy: true, DueTargets: h.lastDue, StaleAfter: h.staleAfter.String()}
	if !h.lastSuccess.IsZero() {
		at := h.lastSuccess
		st.LastSuccessAt = &at
	}
	if !h.lastTick.IsZero() {
		at := h.lastTick
		st.LastTickAt = &at
	}

	ref := h.lastSuccess
	if ref.IsZero() {
		ref = h.started
	}
	if h.lastDue > 0 && now.Sub(ref) > h.staleAfter {
		st.Healthy = false
		st.Reason = "no successful check within " + h.staleAfter.String()
	}
	return st
}
