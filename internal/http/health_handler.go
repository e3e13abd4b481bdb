package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store     Pinger
	clients   func() int
	timeout   time.Duration
	responder responder
}

// NewHealthHandler builds the health endpoint. clients may be nil.
func NewHealthHandler(store Pinger, clients func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, clients: clients, timeout: 2 * time.Second, responder: newResponder(logger)}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.responder.loggerFor(r.Context()).WarnContext(r.Context(), "store ping failed", "error", err)
			resp.Status, resp.Store = "degraded", "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.clients != nil {
		n := h.clients()
		resp.EventClients = &n
	}
	h.responder.writeJSON(r.Context(), w, status, resp)
}

type healthResponse struct {
	Status       string `json:"status"`
	Store        string `json:"store"`
	EventClients *int   `json:"event_clients,omitempty"`
}
