package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func receive(t *testing.T, ch <-chan []byte) Message {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("client channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestBroadcasterDeliversEnvelope(t *testing.T) {
	t.Parallel()

	hub := startHub(t)
	first, second := NewClient(hub), NewClient(hub)
	if !hub.Register(first) || !hub.Register(second) {
		t.Fatalf("register failed")
	}

	b := NewBroadcaster(hub, quietLogger())
	b.now = func() time.Time { return time.Date(2025, 1, 6, 1, 0, 0, 0, time.UTC) }
	b.Publish(context.Background(), "booking.paid", map[string]string{"booking_id": "b-1"})

	for _, client := range []*Client{first, second} {
		msg := receive(t, client.Send())
		if msg.Type != "booking.paid" || !msg.Timestamp.Equal(b.now()) {
			t.Fatalf("unexpected envelope %+v", msg)
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["booking_id"] != "b-1" {
			t.Fatalf("unexpected payload %+v", msg.Payload)
		}
	}
}

func TestHubUnregisterClosesClient(t *testing.T) {
	t.Parallel()

	hub := startHub(t)
	client := NewClient(hub)
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.Send():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send channel not closed")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", hub.ClientCount())
	}
}

func TestHubStopsWithContext(t *testing.T) {
	t.Parallel()

	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	client := NewClient(hub)
	hub.Register(client)

	cancel()
	<-hub.Done()

	if _, ok := <-client.Send(); ok {
		t.Fatalf("client should be closed on shutdown")
	}
	if hub.Register(NewClient(hub)) {
		t.Fatalf("register after shutdown should fail")
	}
	if hub.Broadcast([]byte("{}")) {
		t.Fatalf("broadcast after shutdown should fail")
	}
	var nilBroadcaster *Broadcaster
	nilBroadcaster.Publish(context.Background(), "noop", nil)
}

func TestWebsocketFeed(t *testing.T) {
	t.Parallel()

	hub := startHub(t)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	NewBroadcaster(hub, quietLogger()).Publish(context.Background(), "session.cancelled", map[string]string{"session_id": "s-1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "session.cancelled" {
		t.Fatalf("unexpected message %+v", msg)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
