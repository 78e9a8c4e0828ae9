package websocket

import (
	"sync"

	"staffroom/pkg/types"
)

// Registry owns the mapping between live connections and authenticated
// identities: one set of all transports for broadcasting, one user-keyed map
// for directed sends. Register and Unregister are the only mutation points.
type Registry struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	users       map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[*Connection]struct{}),
		users:       make(map[string]*Connection),
	}
}

// Register adds an authenticated connection. A later connection for the same
// identity supersedes the user-map entry; the earlier transport is left open
// and lingers until its own close or a heartbeat timeout reaps it.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	userID := conn.UserID()
	if userID == "" {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn] = struct{}{}
	r.users[userID] = conn

	return nil
}

// Unregister removes a connection and returns the now-former ConnectedUser.
// The boolean reports whether this connection was the identity's authoritative
// one: dependent cleanup (locks, viewers, typing) must run only then, not when
// a superseded ghost finally closes. Idempotent under concurrent teardown.
func (r *Registry) Unregister(conn *Connection) (*types.ConnectedUser, bool) {
	if conn == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn]; !exists {
		return nil, false
	}
	delete(r.connections, conn)

	user := conn.User()
	if registered, exists := r.users[user.UserID]; exists && registered == conn {
		delete(r.users, user.UserID)
		return user, true
	}

	return user, false
}

// GetUserConnection returns the authoritative connection for an identity.
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.users[userID]
	return conn, exists
}

// Connections returns a snapshot of every live transport, ghosts included,
// so fan-out never holds the registry lock while writing to sockets.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// OnlineUsers returns a snapshot of the ConnectedUser records for every
// authoritative connection.
func (r *Registry) OnlineUsers() []*types.ConnectedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*types.ConnectedUser, 0, len(r.users))
	for _, conn := range r.users {
		users = append(users, conn.User())
	}
	return users
}

// GetStats returns registry counts for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.users),
	}
}
