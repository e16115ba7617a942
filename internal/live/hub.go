// Package live pushes session status to browser observers over WebSocket.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame names.
const (
	FrameMessage       = "message"
	FrameQR            = "qr"
	FrameReady         = "ready"
	FrameAuthenticated = "authenticated"
)

// Static images shown in place of a QR code.
const (
	IconPlaceholder = "./icon.svg"
	IconReady       = "./check.svg"
)

const writeTimeout = 10 * time.Second

// Frame is one event pushed to observers.
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the status page is public, CORS is enforced by the router
	},
}

type HubConfig struct {
	Brand  string
	Logger *slog.Logger
}

// Hub tracks connected observers and remembers the latest QR image and
// status line so observers that join late see the present state.
type Hub struct {
	brand  string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	lastQR  *Frame
	lastMsg *Frame
	closed  bool
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		brand:   cfg.Brand,
		logger:  cfg.Logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the observer registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c, greeting, n := h.register(conn)
	if c == nil {
		conn.Close()
		return
	}
	if err := c.greet(greeting); err != nil {
		h.logger.Debug("websocket greeting failed", "err", err)
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
		return
	}

	h.logger.Info("live observer connected", "remote", r.RemoteAddr, "observers", n)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("live observer disconnected", "remote", r.RemoteAddr)
	}()

	// Observers never send anything meaningful; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "err", err)
			}
			return
		}
	}
}

// register adds conn as an observer and returns the frames it must be greeted
// with. The client comes back with its write lock held so broadcasts queue
// behind the greeting; greet releases it. Returns nil once the hub is closed.
func (h *Hub) register(conn *websocket.Conn) (*client, []Frame, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, 0
	}
	greeting := []Frame{
		{Event: FrameMessage, Data: "© " + h.brand + " - Iniciado"},
		{Event: FrameQR, Data: IconPlaceholder},
	}
	if h.lastQR != nil {
		greeting = append(greeting, *h.lastQR)
	}
	if h.lastMsg != nil {
		greeting = append(greeting, *h.lastMsg)
	}
	c := &client{conn: conn}
	c.mu.Lock()
	h.clients[c] = struct{}{}
	return c, greeting, len(h.clients)
}

// Broadcast pushes a frame to every observer.
func (h *Hub) Broadcast(event, data string) {
	f := Frame{Event: event, Data: data}

	h.mu.Lock()
	switch event {
	case FrameQR:
		h.lastQR = &f
	case FrameMessage:
		h.lastMsg = &f
	}
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(f); err != nil {
			h.logger.Debug("websocket write failed", "err", err)
		}
	}
}

// Observers returns the number of connected observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every observer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (c *client) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(f)
}

// greet writes frames and releases the lock taken by register.
func (c *client) greet(frames []Frame) error {
	defer c.mu.Unlock()
	for _, f := range frames {
		if err := c.send(f); err != nil {
			return err
		}
	}
	return nil
}

// send writes one frame; c.mu must be held.
func (c *client) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
