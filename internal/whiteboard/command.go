package whiteboard

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Darsh20009/youspeak-sub000/internal/protocol"

	"github.com/google/uuid"
)

// Kind is the tag of a draw command.
type Kind string

const (
	KindStart Kind = "start"
	KindDraw  Kind = "draw"
	KindShape Kind = "shape"
	KindText  Kind = "text"
	KindClear Kind = "clear"
	KindErase Kind = "erase"
	KindUndo  Kind = "undo"
	KindRedo  Kind = "redo"
)

// ShapeKind is the figure drawn by a shape command.
type ShapeKind string

const (
	ShapeRectangle ShapeKind = "rectangle"
	ShapeCircle    ShapeKind = "circle"
	ShapeLine      ShapeKind = "line"
	ShapeArrow     ShapeKind = "arrow"
)

// Limits applied by Sanitize.
const (
	MaxCoordinate    = 10000.0
	MinLineWidth     = 1.0
	MaxLineWidth     = 100.0
	DefaultLineWidth = 2.0
	DefaultColor     = "#000000"
	MaxTextLength    = 1000
	MaxPoints        = 10000
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Point is one vertex of a freehand path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Command is a sanitized whiteboard command. ID is assigned by the server;
// ClientID carries the id the sender proposed, if any.
type Command struct {
	ID        string    `json:"id,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Type      Kind      `json:"type"`
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
	X2        *float64  `json:"x2,omitempty"`
	Y2        *float64  `json:"y2,omitempty"`
	Color     string    `json:"color,omitempty"`
	LineWidth float64   `json:"lineWidth,omitempty"`
	Shape     ShapeKind `json:"shape,omitempty"`
	Text      string    `json:"text,omitempty"`
	Filled    bool      `json:"filled,omitempty"`
	Points    []Point   `json:"points,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// IsCursorMove reports whether the command moves the history cursor
// instead of being appended.
func (c Command) IsCursorMove() bool {
	return c.Type == KindUndo || c.Type == KindRedo
}

// inbound mirrors the accepted wire fields. Anything else is dropped.
type inbound struct {
	ID        string          `json:"id"`
	CommandID string          `json:"commandId"`
	Type      Kind            `json:"type"`
	X         *float64        `json:"x"`
	Y         *float64        `json:"y"`
	X2        *float64        `json:"x2"`
	Y2        *float64        `json:"y2"`
	Color     string          `json:"color"`
	LineWidth *float64        `json:"lineWidth"`
	Shape     ShapeKind       `json:"shape"`
	Text      string          `json:"text"`
	Filled    bool            `json:"filled"`
	Points    json.RawMessage `json:"points"`
}

// Sanitize validates a raw command and returns its canonical form.
// Malformed input yields a validation error; oversized input is clamped.
func Sanitize(raw json.RawMessage) (Command, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Command{}, protocol.Validation("command is required")
	}
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Command{}, protocol.Validation("malformed whiteboard command")
	}

	cmd := Command{Type: in.Type, ClientID: strings.TrimSpace(in.ID)}
	if cmd.ClientID == "" {
		cmd.ClientID = strings.TrimSpace(in.CommandID)
	}

	switch in.Type {
	case KindUndo, KindRedo:
		return Command{Type: in.Type}, nil
	case KindClear:
		return cmd, nil
	case KindStart, KindDraw, KindShape, KindText, KindErase:
	default:
		return Command{}, protocol.Validation(fmt.Sprintf("unknown command type %q", in.Type))
	}

	if in.X == nil || in.Y == nil {
		return Command{}, protocol.Validation("x and y are required")
	}
	if !inRange(*in.X) || !inRange(*in.Y) {
		return Command{}, protocol.Validation("coordinates out of range")
	}
	cmd.X, cmd.Y = ptr(*in.X), ptr(*in.Y)
	if in.X2 != nil || in.Y2 != nil {
		if in.X2 == nil || in.Y2 == nil || !inRange(*in.X2) || !inRange(*in.Y2) {
			return Command{}, protocol.Validation("secondary coordinates out of range")
		}
		cmd.X2, cmd.Y2 = ptr(*in.X2), ptr(*in.Y2)
	}

	cmd.Color = DefaultColor
	if in.Color != "" {
		if !colorPattern.MatchString(in.Color) {
			return Command{}, protocol.Validation("color must be #rrggbb")
		}
		cmd.Color = strings.ToLower(in.Color)
	}

	cmd.LineWidth = DefaultLineWidth
	if in.LineWidth != nil {
		if math.IsNaN(*in.LineWidth) || math.IsInf(*in.LineWidth, 0) {
			return Command{}, protocol.Validation("lineWidth must be a number")
		}
		cmd.LineWidth = clamp(*in.LineWidth, MinLineWidth, MaxLineWidth)
	}

	if in.Type == KindShape {
		switch in.Shape {
		case ShapeRectangle, ShapeCircle, ShapeLine, ShapeArrow:
			cmd.Shape = in.Shape
		default:
			return Command{}, protocol.Validation(fmt.Sprintf("unknown shape %q", in.Shape))
		}
		cmd.Filled = in.Filled
	}

	if in.Type == KindText {
		cmd.Text = truncateRunes(in.Text, MaxTextLength)
		if strings.TrimSpace(cmd.Text) == "" {
			return Command{}, protocol.Validation("text is required")
		}
	}

	points, err := sanitizePoints(in.Points)
	if err != nil {
		return Command{}, err
	}
	cmd.Points = points
	return cmd, nil
}

func sanitizePoints(raw json.RawMessage) ([]Point, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var pts []Point
	if err := json.Unmarshal(raw, &pts); err != nil {
		return nil, protocol.Validation("points must be a list of {x, y}")
	}
	if len(pts) > MaxPoints {
		pts = pts[:MaxPoints]
	}
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		out = append(out, Point{X: clamp(p.X, 0, MaxCoordinate), Y: clamp(p.Y, 0, MaxCoordinate)})
	}
	return out, nil
}

// NewCommandID returns a server id of the form {room}-{unixMillis}-{random}.
func NewCommandID(roomToken string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", roomToken, now.UnixMilli(), uuid.NewString()[:8])
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= MaxCoordinate
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func ptr(v float64) *float64 { return &v }
