// internal/broadcast/hub.go
package broadcast

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 256
	writeWait        = 10 * time.Second
)

// Envelope is the wire frame pushed to map clients.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub is the concrete broadcast sink: a WebSocket fan-out to all connected
// map viewers. The shared-secret check happens at upgrade time; the engine
// behind the hub assumes every delivery target is already authorized.
//
// Each client gets its own buffered outbound channel and write loop. A
// client that cannot keep up has its connection dropped rather than ever
// stalling the fan-out.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	secret   string
	upgrader ws.Upgrader
	log      *slog.Logger
}

type client struct {
	conn   *ws.Conn
	sendCh chan []byte
}

// NewHub creates a hub guarded by the given shared secret.
func NewHub(secret string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		secret:  secret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP upgrades a viewer connection after checking the secret query
// parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, sendCh: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("viewer connected", "remote", r.RemoteAddr, "clients", n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Publish marshals the event into an envelope and fans it out. A client
// whose buffer is full is disconnected; delivery is at-most-once.
func (h *Hub) Publish(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("broadcast payload marshal failed", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		h.log.Warn("broadcast envelope marshal failed", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.sendCh <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn("viewer too slow, dropping connection")
		h.remove(c)
	}
}

// writeLoop drains the client's channel onto the socket. One writer per
// connection; it returns on write error or removal.
func (h *Hub) writeLoop(c *client) {
	for data := range c.sendCh {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			h.remove(c)
			return
		}
		if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop discards inbound frames; viewers are read-only. It exists to
// notice closed connections promptly.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.sendCh)
	}
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// ClientCount reports the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
