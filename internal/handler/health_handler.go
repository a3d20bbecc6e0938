package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"library-lending/internal/repository"
)

type HealthHandler struct {
	store   repository.Pinger
	driver  string
	timeout time.Duration
}

func NewHealthHandler(store repository.Pinger, driver string) *HealthHandler {
	return &HealthHandler{store: store, driver: driver, timeout: 2 * time.Second}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("health check failed", "driver", h.driver, "error", err)
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","driver":"` + h.driver + `"}`))
}
