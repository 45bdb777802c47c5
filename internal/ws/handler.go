package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot returns the state sent to a client right after it connects.
type Snapshot func() map[string]any

// client owns one connection. Only its writer goroutine writes to conn once
// it is registered.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Manager tracks active WebSocket connections and fans job events out to them.
// Broadcast never waits on a client: events for a client whose buffer is full
// are dropped.
type Manager struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	dropped  atomic.Int64
	logger   *slog.Logger
	snapshot Snapshot
}

// NewManager creates a new WebSocket manager. snapshot may be nil.
func NewManager(snapshot Snapshot, logger *slog.Logger) *Manager {
	return &Manager{
		clients:  make(map[*client]struct{}),
		snapshot: snapshot,
		logger:   logger,
	}
}

// HandleWS upgrades an HTTP connection to WebSocket, sends the snapshot and
// keeps the client registered until it disconnects.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	if m.snapshot != nil {
		msg, err := json.Marshal(m.snapshot())
		if err == nil {
			err = write(conn, msg)
		}
		if err != nil {
			conn.Close()
			return
		}
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	m.register(c)
	go m.writeLoop(c)

	defer func() {
		m.unregister(c)
		conn.Close()
	}()

	// Clients only listen; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast queues data for every connected client.
func (m *Manager) Broadcast(data map[string]any) {
	msg, err := json.Marshal(data)
	if err != nil {
		m.logger.Error("websocket event not encodable", "err", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.clients {
		select {
		case c.send <- msg:
		default:
			m.dropped.Add(1)
		}
	}
}

// ConnectionCount returns the number of live clients.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

func (m *Manager) register(c *client) {
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
}

// unregister closes the client's queue, which ends its writer.
func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
}

func (m *Manager) writeLoop(c *client) {
	for msg := range c.send {
		if err := write(c.conn, msg); err != nil {
			m.logger.Debug("dropping websocket client", "err", err)
			// Closing the socket fails the reader, which unregisters c.
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
