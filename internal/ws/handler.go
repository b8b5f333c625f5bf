package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/Darsh20009/youspeak-sub000/internal/auth"
	"github.com/Darsh20009/youspeak-sub000/internal/core"
	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

// Options tunes per-connection transport limits. Zero values take defaults.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadLimit    int64
	RateLimit    rate.Limit
	RateBurst    int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 50
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 100
	}
	return o
}

// Handler owns websocket transport for the coordinator.
type Handler struct {
	coord    *core.Coordinator
	verifier auth.Verifier
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to coord.
func NewHandler(coord *core.Coordinator, verifier auth.Verifier, opts Options) *Handler {
	return &Handler{
		coord:    coord,
		verifier: verifier,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect. A
// token query parameter authenticates the connection up front.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, c.QueryParam("token"))
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, token string) {
	defer conn.Close()
	conn.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := h.coord.Connect(h.opts.SendBuffer)
	writerDone := make(chan struct{})
	defer func() {
		h.coord.Disconnect(session.ConnID)
		<-writerDone
	}()

	go func() {
		defer close(writerDone)
		for out := range session.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteJSON(out); err != nil {
				slog.Debug("websocket write failed", "conn_id", session.ConnID, "err", err)
				// unblocks the reader; the queue is drained until Disconnect closes it
				_ = conn.Close()
				for range session.Send {
				}
				return
			}
		}
	}()

	if token != "" {
		if !h.authenticate(session.ConnID, token) {
			return
		}
	}

	limiter := rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "conn_id", session.ConnID, "err", err)
			}
			return
		}

		var in protocol.Message
		if err := json.Unmarshal(raw, &in); err != nil {
			h.sendError(session.ConnID, "", protocol.Validation("malformed message"))
			continue
		}
		metrics.InboundMessage(typeLabel(in.Type))

		if !limiter.Allow() {
			h.sendError(session.ConnID, in.Type, protocol.RateLimited())
			continue
		}
		h.handleInbound(ctx, session.ConnID, in)
	}
}

// authenticate verifies token and binds the identity. It reports whether the
// connection may continue.
func (h *Handler) authenticate(connID, token string) bool {
	identity, err := h.verifier.Verify(token)
	if err == nil {
		err = h.coord.Authenticate(connID, identity)
	}
	if err != nil {
		slog.Info("websocket auth rejected", "conn_id", connID, "err", err)
		h.sendError(connID, protocol.TypeAuth, err)
		return false
	}
	h.coord.Registry().SendTo(connID, protocol.NewMessage(protocol.TypeAuthOK, protocol.AuthOK{Identity: identity}))
	return true
}

func (h *Handler) handleInbound(ctx context.Context, connID string, in protocol.Message) {
	var err error
	switch in.Type {
	case protocol.TypePing:
		h.coord.Registry().SendTo(connID, protocol.Message{Type: protocol.TypePong, Timestamp: in.Timestamp})

	case protocol.TypeAuth:
		var req protocol.AuthRequest
		if err = in.Decode(&req); err == nil {
			h.authenticate(connID, req.Token)
		}

	case protocol.TypeJoin:
		var req protocol.RoomRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.Join(connID, req.RoomToken)
		}

	case protocol.TypeLeave:
		var req protocol.RoomRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.Leave(connID, req.RoomToken)
		}

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		err = h.coord.Relay(connID, in.Type, in.Payload)

	case protocol.TypeToggleHand:
		err = h.coord.ToggleHand(connID)

	case protocol.TypeReaction:
		var req protocol.ReactionRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.SendReaction(connID, req.Reaction)
		}

	case protocol.TypeMuteParticipant:
		var req protocol.MuteRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.MuteParticipant(connID, req.ParticipantID, req.ShouldMute)
		}

	case protocol.TypeMuteAll:
		err = h.coord.MuteAll(connID)

	case protocol.TypeRemoveParticipant:
		var req protocol.RemoveRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.RemoveParticipant(connID, req.ParticipantID)
		}

	case protocol.TypeLock:
		var req protocol.LockRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.LockRoom(connID, req.Locked)
		}

	case protocol.TypeWhiteboardCommand:
		var req protocol.WhiteboardRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.Whiteboard(connID, req.Command)
		}

	case protocol.TypeChatMessage:
		var req protocol.ChatRequest
		if err = in.Decode(&req); err == nil {
			err = h.coord.SendChat(ctx, connID, req)
		}

	default:
		err = protocol.Validation("unsupported message type")
	}

	if err != nil {
		h.sendError(connID, in.Type, err)
	}
}

func (h *Handler) sendError(connID, requestType string, err error) {
	msg := protocol.ErrorMessage(requestType, err)
	metrics.ErrorReply(msg.Error.Code)
	slog.Debug("error reply", "conn_id", connID, "request_type", requestType, "code", msg.Error.Code, "message", msg.Error.Message)
	h.coord.Registry().SendTo(connID, msg)
}

// typeLabel bounds metric label values to the known inbound types.
func typeLabel(t string) string {
	switch t {
	case protocol.TypePing, protocol.TypeAuth, protocol.TypeJoin, protocol.TypeLeave,
		protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate,
		protocol.TypeToggleHand, protocol.TypeReaction, protocol.TypeMuteParticipant,
		protocol.TypeMuteAll, protocol.TypeRemoveParticipant, protocol.TypeLock,
		protocol.TypeWhiteboardCommand, protocol.TypeChatMessage:
		return t
	}
	return "unknown"
}
