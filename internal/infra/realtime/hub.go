// Package realtime streams newly created in-app notifications to the
// recipient's open websocket connections.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"school-notify/internal/domain/entity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
	maxReadSize    = 512
)

// Message is the frame written to clients.
type Message struct {
	Type         string               `json:"type"`
	Notification *NotificationPayload `json:"notification,omitempty"`
}

// NotificationPayload is the client view of a notification.
type NotificationPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Priority  string          `json:"priority"`
	Data      json.RawMessage `json:"data,omitempty"`
	ActionURL string          `json:"actionUrl,omitempty"`
	Icon      string          `json:"icon,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

type client struct {
	userID string
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks live connections per user. One Hub is shared by the process.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithCheckOrigin sets the origin policy of the websocket handshake. The
// default rejects cross-origin requests.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends n to every connection of userID. Clients whose buffer is
// full are disconnected instead of blocking the publisher.
func (h *Hub) Publish(userID string, n *entity.Notification) {
	h.mu.RLock()
	conns := len(h.clients[userID])
	h.mu.RUnlock()
	if conns == 0 {
		return
	}

	data, err := json.Marshal(Message{Type: "notification", Notification: toPayload(n)})
	if err != nil {
		h.logger.Warn("failed to encode realtime message", slog.Any("error", err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow realtime client", slog.String("user_id", userID))
		h.unregister(c)
	}
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TotalConnections returns the number of open connections across all users.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and streams userID's notifications until the
// client goes away. The caller must have authenticated userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{userID: userID, send: make(chan []byte, sendBufferSize)}
	h.register(c)

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toPayload(n *entity.Notification) *NotificationPayload {
	return &NotificationPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  string(n.Priority),
		Data:      n.Payload.Data,
		ActionURL: n.ActionURL,
		Icon:      n.Icon,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
}
