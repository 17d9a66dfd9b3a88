package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ohmvision/camconnect/internal/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// EventHub broadcasts monitor events to connected websocket clients.
// Implements monitor.EventSink, so it plugs straight into the service.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan monitor.Event
}

func NewEventHub() *EventHub {
	return &EventHub{clients: map[*websocket.Conn]chan monitor.Event{}}
}

// Publish fans the event out without blocking the monitor; slow clients
// drop events instead of stalling health checks.
func (h *EventHub) Publish(evt monitor.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventHub) add(conn *websocket.Conn) chan monitor.Event {
	ch := make(chan monitor.Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// ServeWS upgrades the connection and streams events until the client
// disconnects. Auth happened in middleware before routing got here.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}

	ch := h.add(conn)
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	// Reader loop only to detect close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
