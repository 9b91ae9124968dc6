// Package hub tracks live call websocket connections by session.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// ErrBufferFull is returned when a connection's outbound queue is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")

// Outbound is one queued websocket message.
type Outbound struct {
	Binary bool
	Data   []byte
}

// Connection is one client websocket bound to a session.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan Outbound

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// Hub registers connections and fans messages out per session.
type Hub struct {
	connections map[string]*Connection
	sessions    map[string]map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger
}

// New creates a hub. Run must be started before connections register.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "hub")),
	}
}

// Run processes registrations until ctx is done, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, conn := range h.connections {
				conn.closeSend()
			}
			h.connections = make(map[string]*Connection)
			h.sessions = make(map[string]map[string]*Connection)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]*Connection)
			}
			h.sessions[conn.SessionID][conn.ID] = conn
			h.mu.Unlock()
			h.logger.Info("connection registered",
				zap.String("conn_id", conn.ID),
				zap.String("session_id", conn.SessionID))

		case conn := <-h.unregister:
			h.remove(conn)
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; ok {
		delete(h.connections, conn.ID)
		if conns := h.sessions[conn.SessionID]; conns != nil {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(h.sessions, conn.SessionID)
			}
		}
	}
	h.mu.Unlock()
	conn.closeSend()
	h.logger.Info("connection unregistered", zap.String("conn_id", conn.ID))
}

// NewConnection wraps ws for sessionID.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan Outbound, 256),
	}
}

// Register adds conn to the hub. After Run has returned, conn is closed
// instead.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.closeSend()
	}
}

// Unregister removes conn and closes its send queue.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.closeSend()
	}
}

// BroadcastJSON sends msg to every connection of a session.
func (h *Hub) BroadcastJSON(sessionID string, msg domain.LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conn := range h.sessions[sessionID] {
		if err := conn.enqueue(Outbound{Data: data}); err != nil {
			h.logger.Warn("broadcast dropped", zap.String("conn_id", id), zap.Error(err))
		}
	}
	return nil
}

// CloseSession closes the send queues of every connection of a session,
// which makes their write pumps send a close frame.
func (h *Hub) CloseSession(sessionID string) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.sessions[sessionID]))
	for _, conn := range h.sessions[sessionID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.closeSend()
	}
	return len(conns)
}

// GetConnectionCount returns the number of registered connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasActiveConnections reports whether a session has a registered connection.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// SendJSON queues a JSON message.
func (c *Connection) SendJSON(msg domain.LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(Outbound{Data: data})
}

// SendAudio queues a binary audio message.
func (c *Connection) SendAudio(data []byte) error {
	return c.enqueue(Outbound{Binary: true, Data: data})
}

func (c *Connection) enqueue(msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.Send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WriteMessage writes to the websocket; writes are serialized.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying websocket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
