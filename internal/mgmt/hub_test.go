package mgmt

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubFansOutToWebsocketClients(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWebsocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the subscription
	// before publishing, since Dial returns as soon as the handshake
	// completes on the client side.
	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish(Event{Kind: EventSessionAttached, Subject: "s1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Kind != EventSessionAttached || got.Subject != "s1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHubDropsOldestWhenClientBufferFull(t *testing.T) {
	hub := NewHub(nil)
	c := hub.subscribe()
	defer hub.unsubscribe(c)

	for i := 0; i < clientBuffer+10; i++ {
		hub.Publish(Event{Kind: EventSessionAttached, Subject: "overflow"})
	}
	if len(c.send) != clientBuffer {
		t.Fatalf("expected buffer to stay at capacity %d, got %d", clientBuffer, len(c.send))
	}
}
