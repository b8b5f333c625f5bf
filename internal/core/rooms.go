package core

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/presence"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
	"github.com/Darsh20009/youspeak-sub000/internal/whiteboard"
)

// Room is the state of one room token. Every field is guarded by mu.
type Room struct {
	mu        sync.Mutex
	token     string
	closed    bool
	createdAt time.Time
	members   map[string]protocol.Identity
	presence  presence.State
	board     *whiteboard.History
	timers    map[string]reactionTimer
	timerSeq  uint64
}

type reactionTimer struct {
	t   *time.Timer
	seq uint64
}

func newRoom(token string, now time.Time) *Room {
	return &Room{
		token:     token,
		createdAt: now,
		members:   make(map[string]protocol.Identity),
		presence:  presence.NewState(),
		board:     whiteboard.NewHistory(),
		timers:    make(map[string]reactionTimer),
	}
}

func (r *Room) isMember(id string) bool {
	_, ok := r.members[id]
	return ok
}

// memberIDs returns member identity ids in stable order.
func (r *Room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) participants() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.members))
	for _, id := range r.memberIDs() {
		m := r.members[id]
		out = append(out, protocol.Participant{
			ID:         m.ID,
			Role:       m.Role,
			ProfileID:  m.ProfileID,
			HandRaised: r.presence.Hands[id],
			Muted:      r.presence.Muted[id],
		})
	}
	return out
}

func (r *Room) stopTimer(id string) {
	if rt, ok := r.timers[id]; ok {
		rt.t.Stop()
		delete(r.timers, id)
	}
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		Token:        r.token,
		Participants: r.participants(),
		Locked:       r.presence.Locked,
		HistoryLen:   r.board.Len(),
		Cursor:       r.board.Cursor(),
		CreatedAt:    r.createdAt,
	}
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	Token        string                 `json:"roomToken"`
	Participants []protocol.Participant `json:"participants"`
	Locked       bool                   `json:"locked"`
	HistoryLen   int                    `json:"historyLength"`
	Cursor       int                    `json:"cursor"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Rooms is the room membership table. Its own lock only guards the
// token → room map; room state is guarded by each room's lock.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

// NewRooms returns an empty table.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*Room), now: time.Now}
}

// acquire returns the room for token with its lock held, creating it when
// create is set. It returns nil when the room does not exist.
func (t *Rooms) acquire(token string, create bool) *Room {
	for {
		t.mu.Lock()
		r, ok := t.rooms[token]
		if !ok {
			if !create {
				t.mu.Unlock()
				return nil
			}
			r = newRoom(token, t.now())
			t.rooms[token] = r
			metrics.RoomCreated()
			slog.Info("room created", "room", token)
		}
		t.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		// Torn down between lookup and lock; retry against the table.
		r.mu.Unlock()
	}
}

// drop tears down an empty room. r.mu must be held.
func (t *Rooms) drop(r *Room) {
	r.closed = true
	for id := range r.timers {
		r.stopTimer(id)
	}

	t.mu.Lock()
	if t.rooms[r.token] == r {
		delete(t.rooms, r.token)
	}
	t.mu.Unlock()

	metrics.RoomDestroyed()
	slog.Info("room destroyed", "room", r.token, "history_len", r.board.Len())
}

// Members returns the participants of a room in stable order.
func (t *Rooms) Members(token string) []protocol.Participant {
	r := t.acquire(token, false)
	if r == nil {
		return nil
	}
	defer r.mu.Unlock()
	return r.participants()
}

// Room returns a view of one room.
func (t *Rooms) Room(token string) (RoomInfo, bool) {
	r := t.acquire(token, false)
	if r == nil {
		return RoomInfo{}, false
	}
	defer r.mu.Unlock()
	return r.info(), true
}

// List returns a view of every room ordered by token.
func (t *Rooms) List() []RoomInfo {
	t.mu.Lock()
	tokens := make([]string, 0, len(t.rooms))
	for token := range t.rooms {
		tokens = append(tokens, token)
	}
	t.mu.Unlock()
	sort.Strings(tokens)

	out := make([]RoomInfo, 0, len(tokens))
	for _, token := range tokens {
		if info, ok := t.Room(token); ok {
			out = append(out, info)
		}
	}
	return out
}

// Count returns the number of live rooms.
func (t *Rooms) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Whiteboard returns an exportable snapshot of a room's whiteboard.
func (t *Rooms) Whiteboard(token string) (whiteboard.Snapshot, bool) {
	r := t.acquire(token, false)
	if r == nil {
		return whiteboard.Snapshot{}, false
	}
	defer r.mu.Unlock()
	return whiteboard.TakeSnapshot(token, r.board, t.now()), true
}
