package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/training-booking/internal/events"
)

type EventsHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewEventsHandler(hub *events.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: defaultLogger(logger),
	}
}

// Stream upgrades the request and subscribes the connection to the event feed.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.hub == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "EventsHandler", "Stream").WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	h.hub.Serve(conn)
}
