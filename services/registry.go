package services

import (
	"sync"

	"chat8/realtime-service/utils"

	"github.com/google/uuid"
)

// Registry is the single source of truth for which users are reachable
// right now. It maps each user to the set of live connections for that
// user (multi-device) and is safe for concurrent use.
//
// The registry never prunes on send failure; a dead connection is only
// removed when the transport layer's close event calls Unregister.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[uuid.UUID]*Conn
	logger *utils.Logger
}

func NewRegistry(logger *utils.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]map[uuid.UUID]*Conn),
		logger: logger,
	}
}

// Register adds a connection for its user. It never rejects; a user may
// hold any number of concurrent device connections.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[conn.UserID]
	if conns == nil {
		conns = make(map[uuid.UUID]*Conn)
		r.byUser[conn.UserID] = conns
	}
	conns[conn.ID] = conn

	r.logger.Info("connection registered",
		"user_id", conn.UserID, "conn_id", conn.ID, "connections", len(conns))
}

// Unregister removes one specific connection and reports whether the user
// has no remaining connections, so the presence tracker can act on the
// last disconnect. Removing an unknown connection is a no-op.
func (r *Registry) Unregister(conn *Conn) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[conn.UserID]
	if !ok {
		return true
	}
	if _, ok := conns[conn.ID]; !ok {
		return len(conns) == 0
	}

	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(r.byUser, conn.UserID)
		r.logger.Info("last connection removed", "user_id", conn.UserID, "conn_id", conn.ID)
		return true
	}

	r.logger.Info("connection removed",
		"user_id", conn.UserID, "conn_id", conn.ID, "remaining", len(conns))
	return false
}

// Get returns any one live connection for the user, or nil if none.
func (r *Registry) Get(userID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.byUser[userID] {
		return conn
	}
	return nil
}

// GetAll returns every live connection for the user, for pushes that must
// reach every device.
func (r *Registry) GetAll(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// HasConnection reports whether the user has at least one live connection.
func (r *Registry) HasConnection(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUserIDs returns a snapshot of every user with at least one live
// connection. Callers iterate the snapshot, never the live map.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		ids = append(ids, userID)
	}
	return ids
}

// Broadcast pushes a frame to every connection of every user, best
// effort. A failure on one connection never interrupts the others.
func (r *Registry) Broadcast(frame []byte) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byUser))
	for _, userConns := range r.byUser {
		for _, conn := range userConns {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			r.logger.Warn("broadcast send failed",
				"user_id", conn.UserID, "conn_id", conn.ID, "error", err)
		}
	}
}

// CloseAll shuts down every connection, used during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.byUser))
	for _, userConns := range r.byUser {
		for _, conn := range userConns {
			conns = append(conns, conn)
		}
	}
	r.byUser = make(map[string]map[uuid.UUID]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	r.logger.Info("all connections closed", "count", len(conns))
}
