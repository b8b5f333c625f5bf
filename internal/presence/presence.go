// Package presence holds the per-room hand-raise, reaction, mute and lock
// state and the pure transitions that change it. Callers own locking and
// delivery of the returned events.
package presence

import (
	"strings"
	"unicode/utf8"

	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

// MaxReactionLength bounds the reaction string, usually one emoji.
const MaxReactionLength = 32

// State is the presence state of one room.
type State struct {
	Hands     map[string]bool
	Reactions map[string]string
	Muted     map[string]bool
	Locked    bool
}

// NewState returns an empty unlocked state.
func NewState() State {
	return State{
		Hands:     make(map[string]bool),
		Reactions: make(map[string]string),
		Muted:     make(map[string]bool),
	}
}

func (s State) clone() State {
	out := State{
		Hands:     make(map[string]bool, len(s.Hands)),
		Reactions: make(map[string]string, len(s.Reactions)),
		Muted:     make(map[string]bool, len(s.Muted)),
		Locked:    s.Locked,
	}
	for k, v := range s.Hands {
		out.Hands[k] = v
	}
	for k, v := range s.Reactions {
		out.Reactions[k] = v
	}
	for k, v := range s.Muted {
		out.Muted[k] = v
	}
	return out
}

// Forget drops every entry for id, used when a member leaves.
func (s State) Forget(id string) State {
	out := s.clone()
	delete(out.Hands, id)
	delete(out.Reactions, id)
	delete(out.Muted, id)
	return out
}

// Op names a presence or moderation command.
type Op int

const (
	OpToggleHand Op = iota + 1
	OpReaction
	OpMute
	OpMuteAll
	OpRemove
	OpLock
)

// Command is one presence or moderation request from Actor.
type Command struct {
	Op       Op
	Room     string
	Actor    protocol.Identity
	Target   string
	Flag     bool
	Reaction *string
}

// Event is what the dispatcher must deliver after a successful transition.
// When Target is set, Direct goes to that member before anything else.
// Evict names a member the dispatcher must remove from the room before
// Broadcast is sent.
type Event struct {
	Broadcast protocol.Message
	Target    string
	Direct    protocol.Message
	Evict     string
}

// Transition applies cmd to s. isMember reports current room membership.
// s is never modified; on error the returned state is s.
func Transition(s State, cmd Command, isMember func(string) bool) (State, Event, error) {
	switch cmd.Op {
	case OpToggleHand:
		if cmd.Actor.IsModerator() {
			return s, Event{}, protocol.Forbidden("only participants can raise hands")
		}
		next := s.clone()
		raised := !next.Hands[cmd.Actor.ID]
		if raised {
			next.Hands[cmd.Actor.ID] = true
		} else {
			delete(next.Hands, cmd.Actor.ID)
		}
		typ := protocol.TypeHandLowered
		if raised {
			typ = protocol.TypeHandRaised
		}
		return next, Event{Broadcast: protocol.NewMessage(typ, protocol.HandPayload{
			ParticipantID: cmd.Actor.ID,
			Raised:        raised,
		})}, nil

	case OpReaction:
		next := s.clone()
		var reaction *string
		if cmd.Reaction != nil {
			r := strings.TrimSpace(*cmd.Reaction)
			if r == "" || utf8.RuneCountInString(r) > MaxReactionLength {
				return s, Event{}, protocol.Validation("reaction must be 1-32 characters")
			}
			next.Reactions[cmd.Actor.ID] = r
			reaction = &r
		} else {
			delete(next.Reactions, cmd.Actor.ID)
		}
		return next, Event{Broadcast: protocol.NewMessage(protocol.TypeReaction, protocol.ReactionPayload{
			ParticipantID: cmd.Actor.ID,
			Reaction:      reaction,
		})}, nil

	case OpMute:
		if !cmd.Actor.IsModerator() {
			return s, Event{}, protocol.Forbidden("only supervisors can mute participants")
		}
		if !isMember(cmd.Target) {
			return s, Event{}, protocol.NotFound("participant is not in the room")
		}
		next := s.clone()
		if cmd.Flag {
			next.Muted[cmd.Target] = true
		} else {
			delete(next.Muted, cmd.Target)
		}
		return next, Event{Broadcast: protocol.NewMessage(protocol.TypeParticipantMuted, protocol.MutedPayload{
			ParticipantID: cmd.Target,
			ShouldMute:    cmd.Flag,
		})}, nil

	case OpMuteAll:
		if !cmd.Actor.IsModerator() {
			return s, Event{}, protocol.Forbidden("only supervisors can mute all participants")
		}
		return s, Event{Broadcast: protocol.NewMessage(protocol.TypeAllMuted, protocol.AllMutedPayload{
			Initiator: cmd.Actor.ID,
		})}, nil

	case OpRemove:
		if !cmd.Actor.IsModerator() {
			return s, Event{}, protocol.Forbidden("only supervisors can remove participants")
		}
		if cmd.Target == cmd.Actor.ID {
			return s, Event{}, protocol.Validation("cannot remove yourself")
		}
		if !isMember(cmd.Target) {
			return s, Event{}, protocol.NotFound("participant is not in the room")
		}
		kicked := protocol.NewMessage(protocol.TypeKicked, protocol.KickedPayload{RoomToken: cmd.Room, By: cmd.Actor.ID})
		removed := protocol.NewMessage(protocol.TypeParticipantRemoved, protocol.RemovedPayload{ParticipantID: cmd.Target})
		return s.Forget(cmd.Target), Event{
			Broadcast: removed,
			Target:    cmd.Target,
			Direct:    kicked,
			Evict:     cmd.Target,
		}, nil

	case OpLock:
		if !cmd.Actor.IsModerator() {
			return s, Event{}, protocol.Forbidden("only supervisors can lock the room")
		}
		next := s.clone()
		next.Locked = cmd.Flag
		return next, Event{Broadcast: protocol.NewMessage(protocol.TypeLockChanged, protocol.LockPayload{
			Locked: cmd.Flag,
		})}, nil
	}
	return s, Event{}, protocol.Validation("unknown presence command")
}
