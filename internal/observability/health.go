package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state for the process.
// Readiness flips to true only after recovery completes: snapshot loaded,
// replay done, DB and NATS connected.
type HealthChecker struct {
	ready     atomic.Bool
	reason    atomic.Value // string, why not ready
	startTime time.Time
}

// NewHealthChecker creates a health checker in the not-ready state.
func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{startTime: time.Now()}
	h.reason.Store("starting")
	return h
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady() {
	h.reason.Store("")
	h.ready.Store(true)
}

// SetNotReady marks the service as not ready with a reason.
func (h *HealthChecker) SetNotReady(reason string) {
	h.reason.Store(reason)
	h.ready.Store(false)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 whenever the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once recovery is complete, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}

	reason, _ := h.reason.Load().(string)
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "not_ready",
		"reason": reason,
	})
}
