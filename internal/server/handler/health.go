package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks connectivity to an infrastructure dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process liveness and dependency reachability.
type HealthHandler struct {
	startedAt time.Time
	deps      map[string]Pinger
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{startedAt: time.Now(), deps: deps}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if dep == nil {
			checks[name] = "disabled"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
		"checks": checks,
	})
}
