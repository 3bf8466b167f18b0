package httpd

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker reports whether the service's backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Health check failed")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "pipeline-service",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}
