package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleHealth reports whether the model provider is reachable.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	names, err := m.health.Health(r.Context())
	if err != nil {
		m.logger.Error("Health check failed", slog.String(errLoggerKey, err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"models": names,
	})
}
