package whiteboard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Element is one drawn item on a replayed canvas.
type Element struct {
	Kind      Kind      `json:"kind"`
	Origin    string    `json:"origin,omitempty"`
	Color     string    `json:"color,omitempty"`
	LineWidth float64   `json:"lineWidth,omitempty"`
	Shape     ShapeKind `json:"shape,omitempty"`
	Text      string    `json:"text,omitempty"`
	Filled    bool      `json:"filled,omitempty"`
	Points    []Point   `json:"points"`
}

// Canvas is the result of replaying a command sequence.
type Canvas struct {
	Elements []Element `json:"elements"`
}

// Replay folds cmds into a canvas. Equal input sequences always produce
// byte-identical canvases.
func Replay(cmds []Command) Canvas {
	c := Canvas{Elements: []Element{}}
	// open strokes by origin; draw commands extend the last start of the same user
	open := make(map[string]int)

	for _, cmd := range cmds {
		switch cmd.Type {
		case KindClear:
			c.Elements = []Element{}
			open = make(map[string]int)

		case KindStart:
			c.Elements = append(c.Elements, element(cmd, KindStart))
			open[cmd.UserID] = len(c.Elements) - 1

		case KindDraw:
			idx, ok := open[cmd.UserID]
			if !ok {
				c.Elements = append(c.Elements, element(cmd, KindStart))
				open[cmd.UserID] = len(c.Elements) - 1
				continue
			}
			el := &c.Elements[idx]
			el.Points = append(el.Points, Point{X: *cmd.X, Y: *cmd.Y})
			el.Points = append(el.Points, cmd.Points...)

		case KindErase:
			c.Elements = append(c.Elements, element(cmd, KindErase))

		case KindShape:
			el := element(cmd, KindShape)
			if cmd.X2 != nil && cmd.Y2 != nil {
				el.Points = append(el.Points, Point{X: *cmd.X2, Y: *cmd.Y2})
			}
			c.Elements = append(c.Elements, el)

		case KindText:
			c.Elements = append(c.Elements, element(cmd, KindText))
		}
	}
	return c
}

func element(cmd Command, kind Kind) Element {
	el := Element{
		Kind:      kind,
		Origin:    cmd.UserID,
		Color:     cmd.Color,
		LineWidth: cmd.LineWidth,
		Shape:     cmd.Shape,
		Text:      cmd.Text,
		Filled:    cmd.Filled,
		Points:    []Point{{X: *cmd.X, Y: *cmd.Y}},
	}
	el.Points = append(el.Points, cmd.Points...)
	return el
}

// Fingerprint returns a stable digest of the canvas.
func (c Canvas) Fingerprint() string {
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Snapshot is an exportable copy of a room's whiteboard.
type Snapshot struct {
	RoomToken   string    `json:"roomToken"`
	Cursor      int       `json:"cursor"`
	History     []Command `json:"history"`
	Canvas      Canvas    `json:"canvas"`
	Fingerprint string    `json:"fingerprint"`
	TakenAt     time.Time `json:"takenAt"`
}

// TakeSnapshot captures h for export.
func TakeSnapshot(roomToken string, h *History, now time.Time) Snapshot {
	canvas := Replay(h.Active())
	return Snapshot{
		RoomToken:   roomToken,
		Cursor:      h.Cursor(),
		History:     h.Entries(),
		Canvas:      canvas,
		Fingerprint: canvas.Fingerprint(),
		TakenAt:     now.UTC(),
	}
}
