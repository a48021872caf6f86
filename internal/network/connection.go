// Package network implements the TCP listener that binds the Server List
// Ping state machine to client connections.
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrTooManyConnections is returned by Register when the cap is reached.
var ErrTooManyConnections = errors.New("too many connections")

const writeTimeout = 10 * time.Second

// Connection wraps one accepted client socket.
type Connection struct {
	id     uint64
	conn   net.Conn
	logger zerolog.Logger

	mu           sync.Mutex
	connectedAt  time.Time
	lastActivity time.Time
	state        string
	closed       bool
}

// NewConnection wraps an existing net.Conn.
func NewConnection(id uint64, conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:           id,
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		state:        "handshake",
		logger: log.With().
			Str("component", "connection").
			Uint64("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the connection's identifier, unique within the process.
func (c *Connection) ID() uint64 {
	return c.id
}

// Logger returns the connection's logger.
func (c *Connection) Logger() *zerolog.Logger {
	return &c.logger
}

// Read reads whatever the client has sent, waiting at most timeout.
func (c *Connection) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, err := c.conn.Read(buf)
	if n > 0 {
		c.touch()
	}
	return n, err
}

// Write sends data to the client.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	c.touch()
	return nil
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// SetState records the protocol state for monitoring.
func (c *Connection) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Close closes the connection. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionInfo is a point-in-time view of one connection.
type ConnectionInfo struct {
	ID           uint64    `json:"id"`
	Remote       string    `json:"remote"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:           c.id,
		Remote:       c.conn.RemoteAddr().String(),
		State:        c.state,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
}

// ConnectionRegistry tracks open client connections.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uint64]*Connection),
	}
}

// Register adds a connection unless limit connections are already open.
// A limit of zero or less means unlimited.
func (r *ConnectionRegistry) Register(conn *Connection, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 && len(r.conns) >= limit {
		return fmt.Errorf("%w: %d open", ErrTooManyConnections, len(r.conns))
	}

	r.conns[conn.ID()] = conn
	return nil
}

// Unregister removes and closes a connection.
func (r *ConnectionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
	}
}

// Count returns the number of open connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns every open connection, oldest first.
func (r *ConnectionRegistry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, conn.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// CloseAll closes all connections in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}

	log.Debug().Msg("all connections closed")
}

// CleanStale closes connections that have been inactive for longer than
// timeout. Read deadlines normally end idle connections first; this catches
// connections stuck in a write.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		if last := conn.LastActivity(); last.Before(cutoff) {
			conn.Close()
			delete(r.conns, id)
			cleaned++
			conn.logger.Warn().
				Time("last_activity", last).
				Msg("cleaned stale connection")
		}
	}

	return cleaned
}
