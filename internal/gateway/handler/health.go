package handler

import (
	"context"
	"net/http"
	"time"
)

// Checker is one readiness probe, such as a store or broker ping.
type Checker func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Checker
}

func NewHealthHandler(checks map[string]Checker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HandleHealth serves GET /healthz. Any failing check turns the response
// into a 503 listing the failures.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
