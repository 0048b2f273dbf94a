package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Event is one notification pushed to every connected /events client.
type Event struct {
	Kind        string    `json:"kind"` // "matched", "unmatched", "offered-incompatible-qos", ...
	Writer      string    `json:"writer"`
	Reader      string    `json:"reader"`
	Topic       string    `json:"topic,omitempty"`
	Reason      string    `json:"reason,omitempty"`      // set on an incompatible-qos event
	AliveChange int       `json:"aliveChange,omitempty"` // set on a liveliness-changed event
	Timestamp   time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// introspection is same-origin tooling (rtpsctl, a local dashboard),
	// not a public browser surface, so any origin is fine here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub fans Publish calls out to every currently connected websocket
// client, dropping a client that falls behind rather than blocking the
// publisher.
type eventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*websocket.Conn]chan Event)}
}

func (h *eventHub) broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- e:
		default:
			log.Warnf("admin: events client %s is backed up, dropping event", conn.RemoteAddr())
		}
	}
}

func (h *eventHub) add(conn *websocket.Conn) chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *handler) serveEvents(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warnf("admin: events upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	ch := h.hub.add(conn)
	defer h.hub.remove(conn)

	// a read pump is required so the connection notices the peer closing;
	// nothing meaningful is ever sent upstream.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for e := range ch {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}
