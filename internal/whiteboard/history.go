package whiteboard

import "github.com/Darsh20009/youspeak-sub000/internal/protocol"

// History is a room's append-only command log plus an undo cursor.
// The visible canvas is the replay of entries[0..cursor]; cursor -1 means
// empty or fully undone. History is not safe for concurrent use.
type History struct {
	entries []Command
	cursor  int
	seen    map[string]struct{}
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{cursor: -1, seen: make(map[string]struct{})}
}

// Known reports whether id was already recorded, either as a server id or
// as a client-proposed id.
func (h *History) Known(id string) bool {
	if id == "" {
		return false
	}
	_, ok := h.seen[id]
	return ok
}

// Append stamps cmd with newID, drops the redo tail and appends it.
// A command whose client id is already known is a retransmission and is
// reported as a duplicate without modifying the history.
func (h *History) Append(cmd Command, newID func() string) (Command, bool) {
	if h.Known(cmd.ClientID) {
		return Command{}, false
	}
	cmd.ID = newID()
	if h.cursor < len(h.entries)-1 {
		h.entries = h.entries[:h.cursor+1]
	}
	h.entries = append(h.entries, cmd)
	h.cursor = len(h.entries) - 1

	h.seen[cmd.ID] = struct{}{}
	if cmd.ClientID != "" {
		h.seen[cmd.ClientID] = struct{}{}
	}
	return cmd, true
}

// Undo moves the cursor one step back and returns it.
func (h *History) Undo() (int, error) {
	if h.cursor < 0 {
		return h.cursor, protocol.Validation("nothing to undo")
	}
	h.cursor--
	return h.cursor, nil
}

// Redo moves the cursor one step forward and returns it.
func (h *History) Redo() (int, error) {
	if h.cursor >= len(h.entries)-1 {
		return h.cursor, protocol.Validation("nothing to redo")
	}
	h.cursor++
	return h.cursor, nil
}

// Cursor returns the index of the last visible command.
func (h *History) Cursor() int { return h.cursor }

// Len returns the number of stored commands including the redo tail.
func (h *History) Len() int { return len(h.entries) }

// Active returns a copy of the visible prefix of the history.
func (h *History) Active() []Command {
	out := make([]Command, h.cursor+1)
	copy(out, h.entries[:h.cursor+1])
	return out
}

// Entries returns a copy of every stored command including the redo tail.
func (h *History) Entries() []Command {
	out := make([]Command, len(h.entries))
	copy(out, h.entries)
	return out
}
