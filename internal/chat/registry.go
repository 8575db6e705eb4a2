// Package chat implements the realtime core of the service: connection
// tracking, presence, message relay and call signaling over WebSocket.
package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

// ErrTooManyConns is returned when an identity exceeds its connection cap.
var ErrTooManyConns = errors.New("too many connections for identity")

// Sender delivers an envelope to a single connection.
type Sender interface {
	Send(env protocol.Envelope) error
}

// Conn is one tracked WebSocket connection. An identity may hold several
// connections at once (multiple tabs or devices).
type Conn struct {
	ID          string
	IdentityID  string
	DisplayName string

	room   string // current room view, guarded by the registry mutex
	sender Sender
}

// NewConn creates a tracked connection in the group room.
func NewConn(id, identityID, displayName string, sender Sender) *Conn {
	return &Conn{
		ID:          id,
		IdentityID:  identityID,
		DisplayName: displayName,
		room:        room.Group,
		sender:      sender,
	}
}

// Send forwards an envelope to the connection's sender.
func (c *Conn) Send(env protocol.Envelope) error {
	return c.sender.Send(env)
}

// Registry tracks open connections and the identities behind them. Presence
// transitions are derived from connection multiplicity: an identity comes
// online when its first connection registers and goes offline when its last
// connection deregisters.
type Registry struct {
	mu             sync.RWMutex
	conns          map[string]*Conn            // conn_id -> conn
	byIdentity     map[string]map[string]*Conn // identity_id -> conn_id -> conn
	maxPerIdentity int
}

// NewRegistry creates a Registry. maxPerIdentity of 0 means unlimited.
func NewRegistry(maxPerIdentity int) *Registry {
	return &Registry{
		conns:          make(map[string]*Conn),
		byIdentity:     make(map[string]map[string]*Conn),
		maxPerIdentity: maxPerIdentity,
	}
}

// Register adds a connection. It reports whether this is the identity's
// first open connection.
func (r *Registry) Register(c *Conn) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byIdentity[c.IdentityID]
	if r.maxPerIdentity > 0 && len(existing) >= r.maxPerIdentity {
		return false, ErrTooManyConns
	}
	if existing == nil {
		existing = make(map[string]*Conn)
		r.byIdentity[c.IdentityID] = existing
	}
	existing[c.ID] = c
	r.conns[c.ID] = c
	return len(existing) == 1, nil
}

// Deregister removes a connection. It reports whether the identity has no
// remaining connections.
func (r *Registry) Deregister(connID string) (c *Conn, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)

	if set := r.byIdentity[c.IdentityID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byIdentity, c.IdentityID)
			return c, true
		}
	}
	return c, false
}

// SetRoom updates the room view of a connection.
func (r *Registry) SetRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.room = room
	}
}

// RoomOf returns the current room view of a connection.
func (r *Registry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[connID]; ok {
		return c.room
	}
	return ""
}

// Rename updates the display name on every connection of an identity and
// returns how many connections were patched.
func (r *Registry) Rename(identityID, displayName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.byIdentity[identityID] {
		c.DisplayName = displayName
		n++
	}
	return n
}

// ResolveIdentity maps a delivery target to an online identity. The target
// may be a connection id (the form presence snapshots hand out) or an
// identity id. A stale connection id resolves to nothing even when the
// identity behind it reconnected under a new id.
func (r *Registry) ResolveIdentity(target string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[target]; ok {
		return c.IdentityID, true
	}
	if len(r.byIdentity[target]) > 0 {
		return target, true
	}
	return "", false
}

// IsOnline reports whether an identity has at least one open connection.
func (r *Registry) IsOnline(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identityID]) > 0
}

// ConnCount returns the number of open connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IdentityCount returns the number of distinct online identities.
func (r *Registry) IdentityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// Broadcast sends an envelope to every open connection.
func (r *Registry) Broadcast(env protocol.Envelope) {
	for _, c := range r.snapshotConns() {
		_ = c.Send(env)
	}
}

// BroadcastExcept sends an envelope to every connection except one.
func (r *Registry) BroadcastExcept(env protocol.Envelope, exceptConnID string) {
	for _, c := range r.snapshotConns() {
		if c.ID == exceptConnID {
			continue
		}
		_ = c.Send(env)
	}
}

// SendToIdentity sends an envelope to all connections of an identity and
// reports whether any connection received it.
func (r *Registry) SendToIdentity(identityID string, env protocol.Envelope) bool {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byIdentity[identityID]))
	for _, c := range r.byIdentity[identityID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Send(env)
	}
	return len(conns) > 0
}

// SendToOne sends an envelope to a single connection of an identity, chosen
// deterministically, and reports whether a connection was found.
func (r *Registry) SendToOne(identityID string, env protocol.Envelope) bool {
	r.mu.RLock()
	var target *Conn
	for _, c := range r.byIdentity[identityID] {
		if target == nil || c.ID < target.ID {
			target = c
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return false
	}
	_ = target.Send(env)
	return true
}

// Snapshot returns the online roster with one entry per identity, sorted by
// display name. The connection id reported for an identity is stable across
// calls while that connection stays open.
func (r *Registry) Snapshot() []protocol.PresenceUser {
	r.mu.RLock()
	users := make([]protocol.PresenceUser, 0, len(r.byIdentity))
	for identityID, set := range r.byIdentity {
		var pick *Conn
		for _, c := range set {
			if pick == nil || c.ID < pick.ID {
				pick = c
			}
		}
		users = append(users, protocol.PresenceUser{
			ConnectionID: pick.ID,
			IdentityID:   identityID,
			DisplayName:  pick.DisplayName,
		})
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName == users[j].DisplayName {
			return users[i].IdentityID < users[j].IdentityID
		}
		return users[i].DisplayName < users[j].DisplayName
	})
	return users
}

func (r *Registry) snapshotConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
