// Package ws streams delegate callbacks to websocket subscribers.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/geotrigger-bridge/internal/bridge"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// ErrTooManyConnections is returned when the subscriber limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

// Message types.
const (
	MsgSnapshot      = "snapshot"
	MsgCheckIn       = "check_in"
	MsgCheckOut      = "check_out"
	MsgAuthenticated = "authenticated"
	MsgLoggedOut     = "logged_out"
)

// Message is the envelope written to subscribers.
type Message struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// SnapshotPayload is sent to each subscriber when it connects.
type SnapshotPayload struct {
	Session  session.Session          `json:"session"`
	Triggers []domain.TriggerInstance `json:"triggers"`
}

// StateSource provides the snapshot for new subscribers.
type StateSource interface {
	Session() session.Session
	OpenTriggers() []domain.TriggerInstance
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans delegate callbacks out to connected subscribers. A subscriber that
// cannot keep up is disconnected.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	seq        uint64
	source     StateSource
	maxClients int
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a Hub. maxClients <= 0 means unlimited.
func NewHub(source StateSource, maxClients int, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		source:     source,
		maxClients: maxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Delegate returns bridge hooks that broadcast every callback.
func (h *Hub) Delegate() *bridge.Delegate {
	return &bridge.Delegate{
		CheckedIntoFence:     func(c domain.CheckIn) { h.broadcast(MsgCheckIn, c) },
		CheckedIntoBeacon:    func(c domain.CheckIn) { h.broadcast(MsgCheckIn, c) },
		CheckedOutFromFence:  func(c domain.CheckOut) { h.broadcast(MsgCheckOut, c) },
		CheckedOutFromBeacon: func(c domain.CheckOut) { h.broadcast(MsgCheckOut, c) },
		Authenticated:        func(s session.Session) { h.broadcast(MsgAuthenticated, s) },
		LoggedOut:            func() { h.broadcast(MsgLoggedOut, nil) },
	}
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := h.maxClients > 0 && len(h.clients) >= h.maxClients
	h.mu.Unlock()
	if full {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c, err := h.add(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket subscriber connected", "remote_addr", r.RemoteAddr)

	go h.readPump(c, r.RemoteAddr)
}

// readPump discards inbound frames and unsubscribes on error or close.
func (h *Hub) readPump(c *client, remote string) {
	defer func() {
		h.remove(c)
		h.logger.Info("websocket subscriber disconnected", "remote_addr", remote)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		return nil, ErrTooManyConnections
	}
	h.clients[c] = struct{}{}

	snapshot := SnapshotPayload{Session: h.source.Session(), Triggers: h.source.OpenTriggers()}
	if data, err := h.encode(MsgSnapshot, snapshot); err == nil {
		c.send <- data
	}
	go c.writePump()
	return c, nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// encode must be called with h.mu held.
func (h *Hub) encode(typ string, payload any) ([]byte, error) {
	h.seq++
	data, err := json.Marshal(Message{Type: typ, Seq: h.seq, At: domain.Clock().Now(), Payload: payload})
	if err != nil {
		h.logger.Error("encode websocket message failed", "type", typ, "error", err)
		return nil, err
	}
	return data, nil
}

func (h *Hub) broadcast(typ string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.encode(typ, payload)
	if err != nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket subscriber too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
