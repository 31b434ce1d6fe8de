package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	started time.Time
	checks  map[string]func(context.Context) error
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithReadinessCheck registers a named dependency probe run by Readyz.
func WithReadinessCheck(name string, check func(context.Context) error) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		started: time.Now(),
		checks:  make(map[string]func(context.Context) error),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz runs the registered dependency probes and reports aggregate readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	payload := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		payload["status"] = "degraded"
	}
	if len(results) > 0 {
		payload["checks"] = results
	}
	writeProbe(w, status, payload)
}

func writeProbe(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
