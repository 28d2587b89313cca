package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
)

// Counter is the part of the vector store readiness needs.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Pinger reports whether Redis answers.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	store Counter
	redis Pinger
}

// NewHealthHandler builds the health endpoints. redis may be nil when no
// Redis-backed component is configured.
func NewHealthHandler(store Counter, redis Pinger) *HealthHandler {
	return &HealthHandler{store: store, redis: redis}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.store != nil {
		if n, err := h.store.Count(r.Context()); err != nil {
			checks["index"] = "unhealthy: " + err.Error()
		} else {
			checks["index"] = "ok"
			slog.Debug("index ready", "chunks", n)
		}
	}

	if h.redis != nil {
		if err := h.redis(r.Context()); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]any{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError reports err with the status its kind maps to.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
