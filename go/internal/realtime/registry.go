package realtime

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Connection is the registry's view of one live transport link. The registry
// owns these records exclusively; callers get copies.
type Connection struct {
	ID          string
	UserID      string
	Platform    Platform
	ConnectedAt time.Time
	LastActive  time.Time
}

// Registry tracks which connections belong to which user, on which platform.
// A user with zero connections is offline and holds no entry in the table.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection            // connection ID -> connection
	users map[string]map[string]*Connection // user ID -> connection ID -> connection

	clock clockwork.Clock
}

// NewRegistry creates an empty session registry
func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		users: make(map[string]map[string]*Connection),
		clock: clock,
	}
}

// Register adds a connection to the owning user's session set and returns a
// copy of the stored record plus a snapshot of the user's other connections
// as they were at registration time. Both are taken under one lock hold, so
// concurrent registrations for the same user each see the other. Re-registering
// a known connection ID overwrites its metadata. The returned firstSession
// flag is true when the user transitioned from offline to online.
func (r *Registry) Register(connID, userID string, platform Platform) (Connection, []Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()

	if existing, ok := r.conns[connID]; ok {
		// Idempotent re-registration: move the connection if ownership changed
		if existing.UserID != userID {
			r.removeFromUserLocked(existing)
		}
		existing.UserID = userID
		existing.Platform = platform
		existing.LastActive = now
		r.addToUserLocked(existing)
		return *existing, r.siblingsLocked(userID, connID), false
	}

	others := r.siblingsLocked(userID, connID)

	conn := &Connection{
		ID:          connID,
		UserID:      userID,
		Platform:    platform,
		ConnectedAt: now,
		LastActive:  now,
	}
	r.conns[connID] = conn
	r.addToUserLocked(conn)

	log.Debug().
		Str("connection_id", connID).
		Str("user_id", userID).
		Str("platform", string(platform)).
		Int("user_connections", len(r.users[userID])).
		Msg("connection registered")

	return *conn, others, len(others) == 0
}

// Unregister removes a connection. If it was the user's last one the user
// transitions to offline and the session-set entry is deleted. Unknown IDs
// are a no-op.
func (r *Registry) Unregister(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}

	delete(r.conns, connID)
	r.removeFromUserLocked(conn)

	log.Debug().
		Str("connection_id", connID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")

	return *conn, true
}

// Touch updates a connection's last-activity timestamp. Unknown IDs are a no-op.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.LastActive = r.clock.Now()
	}
}

// IsOnline reports whether the user has at least one tracked connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ActivePlatforms returns the distinct platforms the user is connected on
func (r *Registry) ActivePlatforms(userID string) []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Platform]bool)
	var platforms []Platform
	for _, conn := range r.users[userID] {
		if !seen[conn.Platform] {
			seen[conn.Platform] = true
			platforms = append(platforms, conn.Platform)
		}
	}
	return platforms
}

// Connections returns a snapshot of the user's currently open connections
func (r *Registry) Connections(userID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.users[userID]))
	for _, conn := range r.users[userID] {
		conns = append(conns, *conn)
	}
	return conns
}

// Lookup returns a snapshot of a single connection by ID
func (r *Registry) Lookup(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// SweepIdle unregisters every connection whose last-activity age is at least
// timeout and returns the removed records. Best-effort liveness: connections
// that dropped without a clean disconnect miss at most one sweep interval.
func (r *Registry) SweepIdle(timeout time.Duration) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var removed []Connection
	for connID, conn := range r.conns {
		if now.Sub(conn.LastActive) >= timeout {
			delete(r.conns, connID)
			r.removeFromUserLocked(conn)
			removed = append(removed, *conn)
		}
	}

	if len(removed) > 0 {
		log.Info().
			Int("removed", len(removed)).
			Dur("timeout", timeout).
			Msg("idle connections swept")
	}
	return removed
}

// Stats returns counters over the current table
func (r *Registry) Stats() (totalConnections, onlineUsers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.users)
}

// siblingsLocked snapshots the user's connections other than exceptConnID
func (r *Registry) siblingsLocked(userID, exceptConnID string) []Connection {
	var siblings []Connection
	for _, conn := range r.users[userID] {
		if conn.ID != exceptConnID {
			siblings = append(siblings, *conn)
		}
	}
	return siblings
}

func (r *Registry) addToUserLocked(conn *Connection) {
	if r.users[conn.UserID] == nil {
		r.users[conn.UserID] = make(map[string]*Connection)
	}
	r.users[conn.UserID][conn.ID] = conn
}

func (r *Registry) removeFromUserLocked(conn *Connection) {
	set, ok := r.users[conn.UserID]
	if !ok {
		return
	}
	delete(set, conn.ID)
	// No empty session-set entries persist
	if len(set) == 0 {
		delete(r.users, conn.UserID)
	}
}
