package gateway

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is one accepted WebSocket connection. Writes are serialized;
// reads happen on a single goroutine owned by the server.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	limiter      *ClientRateLimiter
	cancel       context.CancelFunc
	lastActivity atomic.Int64
	requests     atomic.Int64
	closeOnce    sync.Once
}

func newConnection(id string, conn *websocket.Conn, remoteAddr string, limiter *ClientRateLimiter, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  time.Now(),
		conn:         conn,
		writeTimeout: writeTimeout,
		limiter:      limiter,
	}
	c.touch()
	return c
}

// WriteJSON sends v as one text frame
func (c *Connection) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

// Close cancels in-flight calls and closes the socket
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Info returns a snapshot of the connection's state
func (c *Connection) Info() ConnectionInfo {
	last := time.Unix(0, c.lastActivity.Load())
	return ConnectionInfo{
		ID:           c.ID,
		RemoteAddr:   c.RemoteAddr,
		ConnectedAt:  c.ConnectedAt,
		LastActivity: last,
		Requests:     c.requests.Load(),
		Idle:         time.Since(last) > 5*time.Minute,
	}
}

// ConnectionRegistry tracks open connections
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates an empty connection registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Add adds a connection to the registry
func (r *ConnectionRegistry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = conn
}

// Remove removes a connection from the registry
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, id)
}

// Get retrieves a connection by ID
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[id]
	return conn, exists
}

// GetAll returns all connections
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of open connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Infos returns connection snapshots ordered by connect time
func (r *ConnectionRegistry) Infos() []ConnectionInfo {
	conns := r.GetAll()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		infos = append(infos, conn.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
