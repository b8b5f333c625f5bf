// Package chat validates chat drafts and decides who receives a stored
// message. Storage is delegated to a Persister.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

// MaxContentLength bounds a chat message body in characters.
const MaxContentLength = 2000

// KindText is the only message kind produced over the websocket.
const KindText = "text"

// Draft is a chat message before persistence.
type Draft struct {
	SenderID    string
	RecipientID string
	RoomToken   string
	Content     string
	Kind        string
	IsGroup     bool
}

// Message is a persisted chat message as delivered to clients.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"receiverId,omitempty"`
	RoomToken   string    `json:"roomToken,omitempty"`
	Content     string    `json:"content"`
	Kind        string    `json:"kind"`
	IsGroup     bool      `json:"isGroupMessage"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Persister stores a draft and returns the canonical record.
type Persister interface {
	PersistMessage(ctx context.Context, d Draft) (Message, error)
}

// Normalize trims and validates a draft.
func Normalize(d Draft) (Draft, error) {
	d.Content = strings.TrimSpace(d.Content)
	d.RecipientID = strings.TrimSpace(d.RecipientID)
	if d.Content == "" {
		return Draft{}, protocol.Validation("message content is required")
	}
	if utf8.RuneCountInString(d.Content) > MaxContentLength {
		return Draft{}, protocol.Validation("message content is too long")
	}
	if d.Kind == "" {
		d.Kind = KindText
	}
	return d, nil
}

// Mode says who receives a stored message.
type Mode int

const (
	// ModeEcho delivers only to the sender.
	ModeEcho Mode = iota
	// ModeGroup delivers to every member of the sender's room.
	ModeGroup
	// ModeDirect delivers to the recipient's live connection.
	ModeDirect
)

func (m Mode) String() string {
	switch m {
	case ModeGroup:
		return "group"
	case ModeDirect:
		return "direct"
	}
	return "echo"
}

// Route picks the delivery mode for d. inRoom reports whether the sender
// currently belongs to a room.
func Route(d Draft, inRoom bool) Mode {
	switch {
	case d.IsGroup && inRoom:
		return ModeGroup
	case !d.IsGroup && d.RecipientID != "":
		return ModeDirect
	}
	return ModeEcho
}
