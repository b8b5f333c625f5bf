package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/chat"
	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/presence"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
	"github.com/Darsh20009/youspeak-sub000/internal/whiteboard"
)

// DefaultReactionTTL is how long a reaction stays visible before the
// server clears it.
const DefaultReactionTTL = 3 * time.Second

const persistTimeout = 5 * time.Second

// Options configures a Coordinator.
type Options struct {
	// Persister stores chat messages before they are delivered.
	Persister chat.Persister

	// ReactionTTL is the reaction expiry. Zero disables server-side expiry.
	ReactionTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Coordinator owns the registry and the room table and implements every
// room-scoped operation. Lock order is room before registry.
type Coordinator struct {
	registry    *Registry
	rooms       *Rooms
	persister   chat.Persister
	reactionTTL time.Duration
	now         func() time.Time
}

// New returns a coordinator with empty state.
func New(opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rooms := NewRooms()
	rooms.now = now
	return &Coordinator{
		registry:    NewRegistry(),
		rooms:       rooms,
		persister:   opts.Persister,
		reactionTTL: opts.ReactionTTL,
		now:         now,
	}
}

// Registry exposes the connection registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Rooms exposes the room table for read-only views.
func (c *Coordinator) Rooms() *Rooms { return c.rooms }

// Connect registers a new unauthenticated connection.
func (c *Coordinator) Connect(sendBuf int) *Session {
	metrics.ConnectionOpened()
	return c.registry.Connect(sendBuf)
}

// Authenticate binds a verified identity to a connection.
func (c *Coordinator) Authenticate(connID string, identity protocol.Identity) error {
	return c.registry.Authenticate(connID, identity)
}

// Disconnect deregisters a connection and leaves its room.
func (c *Coordinator) Disconnect(connID string) {
	dep, ok := c.registry.Deregister(connID)
	if !ok {
		return
	}
	metrics.ConnectionClosed()
	if dep.Current && dep.Room != "" {
		_ = c.leave(dep.Identity, dep.Room, "disconnect")
	}
}

// Deliver sends msg to the live connection of identityID.
func (c *Coordinator) Deliver(identityID string, msg protocol.Message) bool {
	return c.registry.SendToIdentity(identityID, msg)
}

func (c *Coordinator) actor(connID string) (protocol.Identity, error) {
	id, ok := c.registry.Identity(connID)
	if !ok {
		return protocol.Identity{}, protocol.Unauthorized("authenticate first")
	}
	return id, nil
}

// memberRoom returns the locked room the actor belongs to.
func (c *Coordinator) memberRoom(connID string) (protocol.Identity, *Room, error) {
	id, err := c.actor(connID)
	if err != nil {
		return id, nil, err
	}
	token := c.registry.RoomOf(id.ID)
	if token == "" {
		return id, nil, protocol.NotInRoom()
	}
	r := c.rooms.acquire(token, false)
	if r == nil {
		return id, nil, protocol.NotInRoom()
	}
	if !r.isMember(id.ID) {
		r.mu.Unlock()
		return id, nil, protocol.NotInRoom()
	}
	return id, r, nil
}

// broadcast sends msg to every member except except. r.mu must be held.
func (c *Coordinator) broadcast(r *Room, msg protocol.Message, except string) int {
	sent := 0
	for _, id := range r.memberIDs() {
		if id == except {
			continue
		}
		if c.registry.SendToIdentity(id, msg) {
			sent++
		}
	}
	metrics.Broadcast(sent)
	slog.Debug("room broadcast", "room", r.token, "type", msg.Type, "recipients", sent, "members", len(r.members))
	return sent
}

func (c *Coordinator) broadcastParticipants(r *Room) {
	c.broadcast(r, protocol.NewMessage(protocol.TypeParticipants, protocol.ParticipantsPayload{
		RoomToken:    r.token,
		Participants: r.participants(),
		Locked:       r.presence.Locked,
	}), "")
}

// Join adds the actor to a room, leaving any other room first. Joining the
// same room again re-sends the participants snapshot.
func (c *Coordinator) Join(connID, token string) error {
	id, err := c.actor(connID)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return protocol.Validation("roomToken is required")
	}

	if prev := c.registry.RoomOf(id.ID); prev != "" && prev != token {
		_ = c.leave(id, prev, "switch")
	}

	r := c.rooms.acquire(token, true)
	defer r.mu.Unlock()

	if r.presence.Locked && !id.IsModerator() && !r.isMember(id.ID) {
		return protocol.Forbidden("room is locked")
	}
	_, already := r.members[id.ID]
	r.members[id.ID] = id
	c.registry.setRoom(id.ID, token)

	c.broadcastParticipants(r)
	c.registry.SendToIdentity(id.ID, protocol.NewMessage(protocol.TypeWhiteboardSync, whiteboardSync{
		History: r.board.Entries(),
		Cursor:  r.board.Cursor(),
	}))

	if !already {
		slog.Info("room joined", "room", token, "user_id", id.ID, "role", id.Role, "members", len(r.members))
	}
	return nil
}

// Leave removes the actor from token.
func (c *Coordinator) Leave(connID, token string) error {
	id, err := c.actor(connID)
	if err != nil {
		return err
	}
	current := c.registry.RoomOf(id.ID)
	token = strings.TrimSpace(token)
	if token == "" {
		token = current
	}
	if token == "" || token != current {
		return protocol.NotInRoom()
	}
	return c.leave(id, token, "leave")
}

func (c *Coordinator) leave(id protocol.Identity, token, reason string) error {
	r := c.rooms.acquire(token, false)
	if r == nil {
		c.registry.clearRoom(id.ID, token)
		return protocol.NotInRoom()
	}
	defer r.mu.Unlock()

	if !r.isMember(id.ID) {
		c.registry.clearRoom(id.ID, token)
		return protocol.NotInRoom()
	}
	c.removeMember(r, id.ID)
	slog.Info("room left", "room", token, "user_id", id.ID, "reason", reason, "members", len(r.members))

	if len(r.members) == 0 {
		c.rooms.drop(r)
		return nil
	}
	c.broadcastParticipants(r)
	return nil
}

// removeMember drops every trace of id from r. r.mu must be held.
func (c *Coordinator) removeMember(r *Room, id string) {
	delete(r.members, id)
	r.presence = r.presence.Forget(id)
	r.stopTimer(id)
	c.registry.clearRoom(id, r.token)
}

// Relay fans a WebRTC negotiation message out to every other member.
func (c *Coordinator) Relay(connID, kind string, payload json.RawMessage) error {
	if !protocol.IsSignal(kind) {
		return protocol.Validation("unsupported signal " + kind)
	}
	id, r, err := c.memberRoom(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	msg := protocol.NewMessage(kind, protocol.SignalPayload{From: id.ID, Role: id.Role, Data: payload})
	msg.From = id.ID
	msg.Role = id.Role
	c.broadcast(r, msg, id.ID)
	return nil
}

// ToggleHand flips the actor's raised hand.
func (c *Coordinator) ToggleHand(connID string) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpToggleHand})
}

// SendReaction shows or clears the actor's reaction.
func (c *Coordinator) SendReaction(connID string, reaction *string) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpReaction, Reaction: reaction})
}

// MuteParticipant asks target to mute or unmute.
func (c *Coordinator) MuteParticipant(connID, target string, mute bool) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpMute, Target: strings.TrimSpace(target), Flag: mute})
}

// MuteAll asks every member to mute.
func (c *Coordinator) MuteAll(connID string) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpMuteAll})
}

// RemoveParticipant kicks target out of the actor's room.
func (c *Coordinator) RemoveParticipant(connID, target string) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpRemove, Target: strings.TrimSpace(target)})
}

// LockRoom sets whether non-moderators may join.
func (c *Coordinator) LockRoom(connID string, locked bool) error {
	return c.applyPresence(connID, presence.Command{Op: presence.OpLock, Flag: locked})
}

func (c *Coordinator) applyPresence(connID string, cmd presence.Command) error {
	id, r, err := c.memberRoom(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	cmd.Actor = id
	cmd.Room = r.token
	next, ev, err := presence.Transition(r.presence, cmd, r.isMember)
	if err != nil {
		return err
	}
	r.presence = next

	if ev.Target != "" {
		c.registry.SendToIdentity(ev.Target, ev.Direct)
	}
	if ev.Evict != "" {
		c.removeMember(r, ev.Evict)
		slog.Info("participant removed", "room", r.token, "user_id", ev.Evict, "by", id.ID)
		c.broadcastParticipants(r)
	}
	c.broadcast(r, ev.Broadcast, "")

	if cmd.Op == presence.OpReaction {
		c.scheduleReactionExpiry(r, id.ID, cmd.Reaction != nil)
	}
	return nil
}

// scheduleReactionExpiry replaces any pending expiry for id. r.mu must be held.
func (c *Coordinator) scheduleReactionExpiry(r *Room, id string, set bool) {
	r.stopTimer(id)
	if !set || c.reactionTTL <= 0 {
		return
	}
	r.timerSeq++
	seq, token := r.timerSeq, r.token
	r.timers[id] = reactionTimer{
		seq: seq,
		t:   time.AfterFunc(c.reactionTTL, func() { c.expireReaction(token, id, seq) }),
	}
}

func (c *Coordinator) expireReaction(token, id string, seq uint64) {
	r := c.rooms.acquire(token, false)
	if r == nil {
		return
	}
	defer r.mu.Unlock()

	rt, ok := r.timers[id]
	if !ok || rt.seq != seq {
		return
	}
	delete(r.timers, id)
	actor, ok := r.members[id]
	if !ok {
		return
	}
	next, ev, err := presence.Transition(r.presence, presence.Command{Op: presence.OpReaction, Actor: actor, Room: token}, r.isMember)
	if err != nil {
		return
	}
	r.presence = next
	c.broadcast(r, ev.Broadcast, "")
	slog.Debug("reaction expired", "room", token, "user_id", id)
}

// SendChat persists a chat message and then delivers it.
func (c *Coordinator) SendChat(ctx context.Context, connID string, req protocol.ChatRequest) error {
	id, err := c.actor(connID)
	if err != nil {
		return err
	}
	room := c.registry.RoomOf(id.ID)
	draft, err := chat.Normalize(chat.Draft{
		SenderID:    id.ID,
		RecipientID: req.ReceiverID,
		RoomToken:   room,
		Content:     req.Content,
		IsGroup:     req.IsGroupMessage,
	})
	if err != nil {
		return err
	}
	if c.persister == nil {
		return protocol.Internal("chat is not available")
	}

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	stored, err := c.persister.PersistMessage(ctx, draft)
	if err != nil {
		metrics.ChatPersistFailed()
		slog.Error("persist chat message", "user_id", id.ID, "room", room, "err", err)
		return protocol.Internal("failed to save message")
	}

	msg := protocol.NewMessage(protocol.TypeChatMessage, stored)
	msg.ID = strconv.FormatInt(stored.ID, 10)
	msg.UserID = id.ID
	msg.Timestamp = stored.CreatedAt.UnixMilli()

	mode := chat.Route(draft, room != "")
	switch mode {
	case chat.ModeGroup:
		r := c.rooms.acquire(room, false)
		if r == nil {
			c.registry.SendTo(connID, msg)
			break
		}
		c.broadcast(r, msg, "")
		r.mu.Unlock()
	case chat.ModeDirect:
		delivered := c.registry.SendToIdentity(draft.RecipientID, msg)
		slog.Debug("direct chat", "from", id.ID, "to", draft.RecipientID, "delivered", delivered)
	default:
		c.registry.SendTo(connID, msg)
	}
	return nil
}

type whiteboardCommand struct {
	Command whiteboard.Command `json:"command"`
}

type whiteboardSync struct {
	History []whiteboard.Command `json:"history"`
	Cursor  int                  `json:"cursor"`
}

// Whiteboard validates and applies one whiteboard command from the actor.
func (c *Coordinator) Whiteboard(connID string, raw json.RawMessage) error {
	cmd, err := whiteboard.Sanitize(raw)
	if err != nil {
		return err
	}
	id, r, err := c.memberRoom(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	switch cmd.Type {
	case whiteboard.KindUndo, whiteboard.KindRedo:
		move, typ := r.board.Undo, protocol.TypeWhiteboardUndo
		if cmd.Type == whiteboard.KindRedo {
			move, typ = r.board.Redo, protocol.TypeWhiteboardRedo
		}
		cursor, err := move()
		if err != nil {
			return err
		}
		msg := protocol.NewMessage(typ, protocol.CursorPayload{Cursor: cursor})
		msg.UserID = id.ID
		msg.Timestamp = c.now().UnixMilli()
		c.broadcast(r, msg, "")
		return nil
	}

	now := c.now()
	cmd.UserID = id.ID
	cmd.Timestamp = now.UnixMilli()
	stamped, ok := r.board.Append(cmd, func() string { return whiteboard.NewCommandID(r.token, now) })
	if !ok {
		metrics.WhiteboardDuplicate()
		slog.Debug("whiteboard duplicate dropped", "room", r.token, "user_id", id.ID, "client_id", cmd.ClientID)
		return nil
	}

	msg := protocol.NewMessage(protocol.TypeWhiteboardCommand, whiteboardCommand{Command: stamped})
	msg.ID = stamped.ID
	msg.UserID = id.ID
	msg.Timestamp = stamped.Timestamp
	c.broadcast(r, msg, id.ID)
	return nil
}
