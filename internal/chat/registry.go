package chat

import "sync"

// Registry maps connection ids to the identity bound to them. A user may hold
// any number of connections at once.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Connection
	order       []string // connection ids in first-registration order
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Connection),
	}
}

// Register inserts or overwrites the mapping for connectionID. Overwriting
// keeps the connection's first-seen position in snapshots.
func (r *Registry) Register(connectionID, userID, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[connectionID]; !exists {
		r.order = append(r.order, connectionID)
	}
	r.connections[connectionID] = Connection{
		ID:       connectionID,
		UserID:   userID,
		Nickname: nickname,
	}
}

// Unregister removes and returns the mapping for connectionID, if any.
func (r *Registry) Unregister(connectionID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	delete(r.connections, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return conn, true
}

// Lookup returns the connection registered under connectionID.
func (r *Registry) Lookup(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Count returns the number of live connections bound to userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.connections {
		if conn.UserID == userID {
			n++
		}
	}
	return n
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Snapshot returns a point-in-time copy of all connections in registration order.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.connections[id])
	}
	return snapshot
}
