package protocol

import "encoding/json"

// Message types used by the websocket protocol.
const (
	TypeAuth   = "auth"
	TypeAuthOK = "auth:ok"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeError  = "error"

	TypeJoin         = "room:join"
	TypeLeave        = "room:leave"
	TypeParticipants = "room:participants"

	TypeOffer        = "webrtc:offer"
	TypeAnswer       = "webrtc:answer"
	TypeICECandidate = "webrtc:ice-candidate"

	TypeToggleHand         = "room:toggle-hand"
	TypeHandRaised         = "room:hand-raised"
	TypeHandLowered        = "room:hand-lowered"
	TypeReaction           = "room:reaction"
	TypeMuteParticipant    = "room:mute-participant"
	TypeParticipantMuted   = "room:participant-muted"
	TypeMuteAll            = "room:mute-all"
	TypeAllMuted           = "room:all-muted"
	TypeRemoveParticipant  = "room:remove-participant"
	TypeKicked             = "room:kicked"
	TypeParticipantRemoved = "room:participant-removed"
	TypeLock               = "room:lock"
	TypeLockChanged        = "room:lock-changed"

	TypeWhiteboardCommand = "whiteboard:command"
	TypeWhiteboardUndo    = "whiteboard:undo"
	TypeWhiteboardRedo    = "whiteboard:redo"
	TypeWhiteboardSync    = "whiteboard:sync"

	TypeChatMessage  = "chat_message"
	TypeNotification = "notification"
)

// IsSignal reports whether t is one of the relayed WebRTC negotiation kinds.
func IsSignal(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Message is the JSON envelope exchanged over websocket in both directions.
// Inbound messages only carry Type and Payload.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	From      string          `json:"from,omitempty"`
	Role      Role            `json:"role,omitempty"`
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// NewMessage marshals payload into a message of type t.
// A nil payload produces a message without one.
func NewMessage(t string, payload any) Message {
	msg := Message{Type: t}
	if payload == nil {
		return msg
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{Type: TypeError, Error: Internal("encode " + t)}
	}
	msg.Payload = raw
	return msg
}

// Decode unmarshals the payload into v. An empty payload is treated as {}.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return Validation("malformed " + m.Type + " payload")
	}
	return nil
}

// Participant is one room member as seen in participants snapshots.
type Participant struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	ProfileID  string `json:"profileId,omitempty"`
	HandRaised bool   `json:"handRaised,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
}

// Inbound payloads.

type AuthRequest struct {
	Token string `json:"token"`
}

type RoomRequest struct {
	RoomToken string `json:"roomToken"`
}

type ReactionRequest struct {
	Reaction *string `json:"reaction"`
}

type MuteRequest struct {
	ParticipantID string `json:"participantId"`
	ShouldMute    bool   `json:"shouldMute"`
}

type RemoveRequest struct {
	ParticipantID string `json:"participantId"`
}

type LockRequest struct {
	Locked bool `json:"locked"`
}

type WhiteboardRequest struct {
	Command json.RawMessage `json:"command"`
}

type ChatRequest struct {
	Content        string `json:"content"`
	ReceiverID     string `json:"receiverId,omitempty"`
	IsGroupMessage bool   `json:"isGroupMessage,omitempty"`
}

// Outbound payloads.

type AuthOK struct {
	Identity Identity `json:"identity"`
}

type ParticipantsPayload struct {
	RoomToken    string        `json:"roomToken"`
	Participants []Participant `json:"participants"`
	Locked       bool          `json:"locked"`
}

type SignalPayload struct {
	From string          `json:"from"`
	Role Role            `json:"role"`
	Data json.RawMessage `json:"data"`
}

type HandPayload struct {
	ParticipantID string `json:"participantId"`
	Raised        bool   `json:"raised"`
}

type ReactionPayload struct {
	ParticipantID string  `json:"participantId"`
	Reaction      *string `json:"reaction"`
}

type MutedPayload struct {
	ParticipantID string `json:"participantId"`
	ShouldMute    bool   `json:"shouldMute"`
}

type AllMutedPayload struct {
	Initiator string `json:"initiator"`
}

type KickedPayload struct {
	RoomToken string `json:"roomToken"`
	By        string `json:"by"`
}

type RemovedPayload struct {
	ParticipantID string `json:"participantId"`
}

type LockPayload struct {
	Locked bool `json:"locked"`
}

type CursorPayload struct {
	Cursor int `json:"cursor"`
}

type NotificationPayload struct {
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}
