package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Message is the envelope every client receives.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster encodes domain events and hands them to the hub. It satisfies
// application.EventPublisher.
type Broadcaster struct {
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewBroadcaster returns a Broadcaster publishing through hub.
func NewBroadcaster(hub *Hub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{hub: hub, logger: logger, now: time.Now}
}

// Publish broadcasts eventType with payload. Delivery is best effort.
func (b *Broadcaster) Publish(ctx context.Context, eventType string, payload any) {
	if b == nil || b.hub == nil {
		return
	}
	data, err := json.Marshal(Message{Type: eventType, Timestamp: b.now().UTC(), Payload: payload})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode event", "event_type", eventType, "error", err)
		return
	}
	if !b.hub.Broadcast(data) {
		b.logger.WarnContext(ctx, "event dropped", "event_type", eventType)
	}
}
