package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultWriteTimeout bounds a single WebSocket send.
const DefaultWriteTimeout = 10 * time.Second

// ConnectionManager manages WebSocket connections and their channel
// subscriptions. One instance per process; it registers itself as a
// bus sink.
type ConnectionManager struct {
	// Active connections: connection_id -> *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel -> set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock. All reads and writes
// happen on the goroutine that owns the connection (HandleConnection's
// read loop and its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a manager and registers it on the bus.
func NewConnectionManager(bus *Bus) *ConnectionManager {
	m := &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: DefaultWriteTimeout,
	}
	if bus != nil {
		bus.Register(m)
	}
	return m
}

// Deliver implements Sink: marshal once, broadcast to the event's
// channel.
func (m *ConnectionManager) Deliver(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode event", "type", event.Type, "error", err)
		return
	}
	m.Broadcast(event.Channel, data)
}

// HandleConnection manages the lifecycle of one WebSocket connection.
// Called by the HTTP handler after upgrade; blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// Broadcast sends raw bytes to every connection subscribed to channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then release the lock before
	// sending so slow writes cannot stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of live connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
	slog.Debug("WebSocket subscribed", "connection_id", c.ID, "channel", channel)
}

func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if conns, exists := m.channels[channel]; exists {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	slog.Debug("WebSocket connected", "connection_id", c.ID)
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for channel := range c.subscriptions {
		m.unsubscribe(c, channel)
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.cancel()
	slog.Debug("WebSocket disconnected", "connection_id", c.ID)
}

func (m *ConnectionManager) sendJSON(c *Connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode WebSocket payload", "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send to WebSocket client", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(ctx, websocket.MessageText, data)
}
