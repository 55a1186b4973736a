package websocket

import (
	"sort"
	"sync"

	"mentormatrix/internal/ratelimit"
	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

// Registry is the single owner of live connection state: which sockets are
// open, who they belong to, and which rooms they joined.
// ARCHITECTURAL DISCOVERY: room membership is stored twice (room -> members
// and connection -> rooms) and both sides change under one lock
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry
	rooms       map[string]map[string]interfaces.Connection
	limiter     *ratelimit.Limiter
}

type entry struct {
	conn     interfaces.Connection
	identity *types.Identity
	rooms    map[string]struct{}
}

// Disposed describes a connection removed by Dispose.
type Disposed struct {
	ConnectionID string
	Identity     *types.Identity
	Rooms        []string
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Identified  int `json:"identified"`
	Rooms       int `json:"rooms"`
	Memberships int `json:"memberships"`
}

// NewRegistry creates a registry whose per-connection rate state lives in
// limiter.
func NewRegistry(limiter *ratelimit.Limiter) *Registry {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultWindow, ratelimit.DefaultLimit)
	}
	return &Registry{
		connections: make(map[string]*entry),
		rooms:       make(map[string]map[string]interfaces.Connection),
		limiter:     limiter,
	}
}

// Limiter returns the limiter whose windows this registry manages.
func (r *Registry) Limiter() *ratelimit.Limiter { return r.limiter }

// Admit records a new connection with no identity, no rooms and an empty
// rate window.
func (r *Registry) Admit(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; exists {
		return ErrDuplicateConnection
	}
	r.connections[id] = &entry{conn: conn, rooms: make(map[string]struct{})}
	r.limiter.Track(id)
	return nil
}

// Identify binds identity to connID. Binding the same user again is a no-op
// and reports first=false; binding a different user fails.
func (r *Registry) Identify(connID string, identity types.Identity) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if e.identity != nil {
		if e.identity.ID != identity.ID {
			return false, ErrIdentityConflict
		}
		return false, nil
	}
	id := identity
	e.identity = &id
	return true, nil
}

// Identity returns the user bound to connID, if any.
func (r *Registry) Identity(connID string) (types.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connections[connID]
	if !ok || e.identity == nil {
		return types.Identity{}, false
	}
	return *e.identity, true
}

// Get returns the live connection for connID.
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connections[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// AddToRoom puts connID into roomID. Repeating it changes nothing.
func (r *Registry) AddToRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[connID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]interfaces.Connection)
		r.rooms[roomID] = members
	}
	members[connID] = e.conn
	e.rooms[roomID] = struct{}{}
	return nil
}

// RemoveFromRoom takes connID out of roomID. Unknown connections and
// non-members are ignored. An emptied room is kept.
func (r *Registry) RemoveFromRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.connections[connID]; ok {
		delete(e.rooms, roomID)
	}
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
	}
}

// Dispose removes connID from every room it joined, discards its rate state
// and forgets it. It is the only path that clears a connection's rooms.
// Disposing an unknown connection returns ok=false.
func (r *Registry) Dispose(connID string) (Disposed, bool) {
	r.mu.Lock()
	e, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return Disposed{}, false
	}

	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		if members, exists := r.rooms[roomID]; exists {
			delete(members, connID)
		}
		rooms = append(rooms, roomID)
	}
	delete(r.connections, connID)
	r.mu.Unlock()

	r.limiter.Forget(connID)

	sort.Strings(rooms)
	return Disposed{ConnectionID: connID, Identity: e.identity, Rooms: rooms}, true
}

// RoomsOf returns the rooms connID has joined, sorted. Never nil.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := []string{}
	if e, ok := r.connections[connID]; ok {
		for roomID := range e.rooms {
			rooms = append(rooms, roomID)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// RoomMembers returns a snapshot of the connections currently in roomID.
func (r *Registry) RoomMembers(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	conns := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

// IsMember reports whether connID is in roomID.
func (r *Registry) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// ConnectionsOfUser returns the live connections identified as userID.
func (r *Registry) ConnectionsOfUser(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, e := range r.connections {
		if e.identity != nil && e.identity.ID == userID {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	return conns
}

// Stats returns registry counters for health reporting.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Connections: len(r.connections), Rooms: len(r.rooms)}
	for _, e := range r.connections {
		if e.identity != nil {
			stats.Identified++
		}
		stats.Memberships += len(e.rooms)
	}
	return stats
}
