package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single WebSocket client connection. Connections start
// anonymous; an identify message binds them to a user, after which call
// messages are accepted.
type Connection struct {
	ID        string    // connection ID (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	RemoteIP  string    // client IP for rate limiting
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last activity observed from the client

	mu         sync.RWMutex
	userID     string
	userName   string
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// Bind associates the connection with an identified user.
func (c *Connection) Bind(userID, userName string) {
	c.mu.Lock()
	c.userID = userID
	c.userName = userName
	c.mu.Unlock()
}

// UserID returns the bound user, or "" while the connection is anonymous.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// UserName returns the bound user's display name.
func (c *Connection) UserName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userName
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of live connections with O(1)
// lookups by connection ID, file descriptor, and bound user.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byFd   map[int]*Connection
	byUser map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byUser: make(map[string]*Connection),
	}
}

// Add registers a new connection in the ID and fd lookup maps. The user map
// is populated later, by BindUser.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// BindUser binds the connection to a user and returns the connection that
// previously held the user's slot, if any. A fresh login from a second
// device steals the slot; the caller decides what to do with the old
// connection.
func (cm *ConnectionManager) BindUser(conn *Connection, userID, userName string) *Connection {
	conn.Bind(userID, userName)

	cm.mu.Lock()
	prev := cm.byUser[userID]
	if prev == conn {
		prev = nil
	}
	cm.byUser[userID] = conn
	cm.mu.Unlock()
	return prev
}

// Remove removes a connection by ID, closes the underlying network
// connection, and clears all lookup maps. Returns true if the connection
// was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
		if uid := conn.UserID(); uid != "" && cm.byUser[uid] == conn {
			delete(cm.byUser, uid)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given connection ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting its
// file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// GetByUser returns the identified user's connection, or nil.
func (cm *ConnectionManager) GetByUser(userID string) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
