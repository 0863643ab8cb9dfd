package realtime

import (
	"sort"
	"sync"
	"time"
)

// Connection is one live transport connection.
type Connection struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	EstablishedAt time.Time `json:"established_at"`
}

// Registry maps users to their live connections. A user with an empty set
// is removed, which is what "fully offline" means to the rest of the hub.
//
// This type is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	conns  map[string]Connection
	now    func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		conns:  make(map[string]Connection),
		now:    now,
	}
}

// Register adds connID to userID's set. It reports whether this is the
// user's first live connection. Registering the same pair twice is a no-op.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connID]; ok {
		if c.UserID == userID {
			return false
		}
		r.removeLocked(connID)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
	r.conns[connID] = Connection{ID: connID, UserID: userID, EstablishedAt: r.now()}
	return !ok
}

// Unregister removes connID. It returns the owning user and whether that
// user has no connections left. Unknown ids return ("", false).
func (r *Registry) Unregister(connID string) (userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (string, bool) {
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	set := r.byUser[c.UserID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, c.UserID)
		return c.UserID, true
	}
	return c.UserID, false
}

// Connections lists userID's live connection ids, sorted.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connection looks up a live connection by id.
func (r *Registry) Connection(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// IsReachable reports whether userID has at least one live connection.
func (r *Registry) IsReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Stats returns the number of connected users and live connections.
func (r *Registry) Stats() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.conns)
}
