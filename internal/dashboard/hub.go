package dashboard

import (
	"encoding/json"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"airpiece/internal/eventlog"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Message is one frame on the live feed.
type Message struct {
	Kind  string          `json:"kind"`
	Event *eventlog.Event `json:"event,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

func newClient(conn *websocket.Conn) *client {
	return &client{id: uuid.NewString(), conn: conn, send: make(chan Message, sendBuffer)}
}

func (c *client) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeLoop owns all writes to the connection.
func (c *client) writeLoop() {
	defer c.conn.Close()
	for m := range c.send {
		if err := c.write(m); err != nil {
			log.Debug("Feed write failed", "client", c.id, "err", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// hub fans new events out to every connected client. A client that falls
// behind is disconnected rather than allowed to stall the rest.
type hub struct {
	mu      sync.Mutex
	clients map[string]*client
	onCount func(int)
}

func newHub(onCount func(int)) *hub {
	if onCount == nil {
		onCount = func(int) {}
	}
	return &hub{clients: map[string]*client{}, onCount: onCount}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.onCount(n)
	log.Info("Feed client connected", "client", c.id, "clients", n)
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.onCount(n)
		log.Info("Feed client gone", "client", id, "clients", n)
	}
}

func (h *hub) broadcast(m Message) {
	var slow []string

	h.mu.Lock()
	for id, c := range h.clients {
		select {
		case c.send <- m:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.Unlock()

	for _, id := range slow {
		log.Warn("Dropping slow feed client", "client", id)
		h.remove(id)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
