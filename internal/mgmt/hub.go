package mgmt

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind enumerates the live event stream's event types — session
// attach/detach/expiry and queue flow-control/threshold transitions, the
// events a QMF v2 console would subscribe to.
type EventKind string

const (
	EventSessionAttached   EventKind = "session.attached"
	EventSessionDetached   EventKind = "session.detached"
	EventSessionExpired    EventKind = "session.expired"
	EventQueueFlowActive   EventKind = "queue.flow_active"
	EventQueueFlowInactive EventKind = "queue.flow_inactive"
	EventQueueThreshold    EventKind = "queue.threshold"
)

// Event is one entry on the live stream. Subject is the session id or
// queue name the event concerns.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Time    time.Time      `json:"time"`
	Subject string         `json:"subject"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Hub fans Events out to every connected /events websocket client. A
// client that falls behind has its oldest buffered event dropped rather
// than blocking the publisher — a slow console should lose history, not
// stall the broker.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	log     *log.Logger
}

const clientBuffer = 64

type hubClient struct {
	send chan Event
}

// NewHub constructs an empty Hub. logger may be nil.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{clients: make(map[*hubClient]struct{}), log: logger}
}

// Publish fans evt out to every currently connected client.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- evt:
		default:
			// Client's buffer is full: drop the oldest queued event to
			// make room rather than blocking the broker on a slow reader.
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- evt:
			default:
			}
		}
	}
}

func (h *Hub) subscribe() *hubClient {
	c := &hubClient{send: make(chan Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebsocket upgrades r into a /events live-stream subscriber. It
// blocks until the connection closes or a write fails, so callers should
// register it directly as an http.HandlerFunc.
func (h *Hub) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Printf("mgmt: websocket upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	client := h.subscribe()
	defer h.unsubscribe(client)

	for evt := range client.send {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}
