package core

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

// SendTimeout bounds how long a write to one connection may block.
const SendTimeout = 50 * time.Millisecond

// Session represents one connected websocket.
type Session struct {
	ConnID string
	Send   chan protocol.Message
}

type connState struct {
	id       string
	identity *protocol.Identity
	send     chan protocol.Message
}

// Departure describes a deregistered connection. Authenticated is false
// when the connection never presented a valid token. Current is true when
// the connection was still the identity's live one rather than superseded.
type Departure struct {
	Identity      protocol.Identity
	Authenticated bool
	Current       bool
	Room          string
}

// Registry maps connections to identities and identities to their live
// connection and current room.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*connState
	byIdentity map[string]string
	roomOf     map[string]string
	nextID     atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*connState),
		byIdentity: make(map[string]string),
		roomOf:     make(map[string]string),
	}
}

// Connect registers an unauthenticated connection with a buffered send queue.
func (r *Registry) Connect(sendBuf int) *Session {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	c := &connState{
		id:   fmt.Sprintf("c%d", r.nextID.Add(1)),
		send: make(chan protocol.Message, sendBuf),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	count := len(r.conns)
	r.mu.Unlock()

	slog.Debug("connection registered", "conn_id", c.id, "total_conns", count)
	return &Session{ConnID: c.id, Send: c.send}
}

// Authenticate binds identity to connID. A newer connection for the same
// identity supersedes the older one, which stays open but no longer
// receives identity-addressed messages.
func (r *Registry) Authenticate(connID string, identity protocol.Identity) error {
	identity.ID = strings.TrimSpace(identity.ID)
	if identity.ID == "" {
		return protocol.Unauthorized("identity is missing an id")
	}
	if identity.Role != protocol.RoleModerator && identity.Role != protocol.RoleParticipant {
		return protocol.Unauthorized("identity has an unknown role")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return protocol.NotFound("connection is not registered")
	}
	if c.identity != nil {
		if c.identity.ID != identity.ID {
			return protocol.Validation("connection is already authenticated")
		}
		return nil
	}
	id := identity
	c.identity = &id

	prev, had := r.byIdentity[identity.ID]
	r.byIdentity[identity.ID] = connID
	if had && prev != connID {
		slog.Info("connection superseded", "user_id", identity.ID, "old_conn", prev, "new_conn", connID)
	}
	slog.Info("connection authenticated", "conn_id", connID, "user_id", identity.ID, "role", identity.Role)
	return nil
}

// Identity returns the identity bound to connID.
func (r *Registry) Identity(connID string) (protocol.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok || c.identity == nil {
		return protocol.Identity{}, false
	}
	return *c.identity, true
}

// Lookup returns the live connection of an identity.
func (r *Registry) Lookup(identityID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byIdentity[identityID]
	if !ok {
		return nil, false
	}
	c := r.conns[connID]
	return &Session{ConnID: c.id, Send: c.send}, true
}

// Deregister removes connID and closes its send queue. The identity
// mapping is only removed when connID is still the identity's live
// connection.
func (r *Registry) Deregister(connID string) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return Departure{}, false
	}
	delete(r.conns, connID)
	close(c.send)

	if c.identity == nil {
		slog.Debug("connection removed", "conn_id", connID, "authenticated", false)
		return Departure{}, true
	}
	dep := Departure{Identity: *c.identity, Authenticated: true}
	if r.byIdentity[c.identity.ID] == connID {
		dep.Current = true
		dep.Room = r.roomOf[c.identity.ID]
		delete(r.byIdentity, c.identity.ID)
		delete(r.roomOf, c.identity.ID)
	}
	slog.Info("connection removed", "conn_id", connID, "user_id", c.identity.ID, "current", dep.Current, "room", dep.Room, "remaining_conns", len(r.conns))
	return dep, true
}

// RoomOf returns the room an identity currently belongs to.
func (r *Registry) RoomOf(identityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomOf[identityID]
}

func (r *Registry) setRoom(identityID, token string) {
	r.mu.Lock()
	r.roomOf[identityID] = token
	r.mu.Unlock()
}

func (r *Registry) clearRoom(identityID, token string) {
	r.mu.Lock()
	if r.roomOf[identityID] == token {
		delete(r.roomOf, identityID)
	}
	r.mu.Unlock()
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IdentityCount returns the number of identities with a live connection.
func (r *Registry) IdentityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// SendTo sends one message to one connection.
func (r *Registry) SendTo(connID string, msg protocol.Message) bool {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(c.send, msg)
}

// SendToIdentity sends one message to an identity's live connection.
func (r *Registry) SendToIdentity(identityID string, msg protocol.Message) bool {
	r.mu.RLock()
	connID, ok := r.byIdentity[identityID]
	var ch chan protocol.Message
	if ok {
		ch = r.conns[connID].send
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(ch, msg)
}

func trySend(ch chan protocol.Message, msg protocol.Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		metrics.SendDropped()
		slog.Debug("trySend timeout", "type", msg.Type)
		return false
	}
}
