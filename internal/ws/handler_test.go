package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Darsh20009/youspeak-sub000/internal/auth"
	"github.com/Darsh20009/youspeak-sub000/internal/chat"
	"github.com/Darsh20009/youspeak-sub000/internal/core"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

type testEnv struct {
	coord *core.Coordinator
	jwt   *auth.JWT
	wsURL string
}

type nopPersister struct{}

func (nopPersister) PersistMessage(_ context.Context, d chat.Draft) (chat.Message, error) {
	return chat.Message{ID: 1, SenderID: d.SenderID, RecipientID: d.RecipientID, RoomToken: d.RoomToken, Content: d.Content, Kind: d.Kind, IsGroup: d.IsGroup, CreatedAt: time.Now()}, nil
}

func TestFirstMessageMustAuthenticate(t *testing.T) {
	env := startTestServer(t, Options{})

	conn := dial(t, env.wsURL+"/ws")
	defer conn.Close()

	writeMsg(t, conn, protocol.NewMessage(protocol.TypeJoin, protocol.RoomRequest{RoomToken: "r1"}))
	errMsg := readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeUnauthorized || errMsg.Error.RequestType != protocol.TypeJoin {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}

	writeMsg(t, conn, protocol.NewMessage(protocol.TypeAuth, protocol.AuthRequest{Token: "bogus"}))
	errMsg = readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeUnauthorized || errMsg.Error.RequestType != protocol.TypeAuth {
		t.Fatalf("unexpected auth error: %+v", errMsg.Error)
	}

	// ping is allowed before auth
	writeMsg(t, conn, protocol.Message{Type: protocol.TypePing, Timestamp: 42})
	pong := readUntil(t, conn, isType(protocol.TypePong))
	if pong.Timestamp != 42 {
		t.Fatalf("expected pong to echo timestamp, got %d", pong.Timestamp)
	}
}

func TestQueryTokenAuthenticatesOnUpgrade(t *testing.T) {
	env := startTestServer(t, Options{})
	token := issue(t, env, "m1", protocol.RoleModerator)

	conn := dial(t, env.wsURL+"/ws?token="+url.QueryEscape(token))
	defer conn.Close()

	ok := readUntil(t, conn, isType(protocol.TypeAuthOK))
	var payload protocol.AuthOK
	if err := json.Unmarshal(ok.Payload, &payload); err != nil {
		t.Fatalf("decode auth:ok: %v", err)
	}
	if payload.Identity.ID != "m1" || payload.Identity.Role != protocol.RoleModerator {
		t.Fatalf("unexpected identity: %+v", payload.Identity)
	}
}

func TestBadQueryTokenClosesConnection(t *testing.T) {
	env := startTestServer(t, Options{})
	conn := dial(t, env.wsURL+"/ws?token=nope")
	defer conn.Close()

	errMsg := readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeUnauthorized {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after failed auth")
	}
}

func TestSignalRelayEndToEnd(t *testing.T) {
	env := startTestServer(t, Options{})
	mod := connectClient(t, env, "m1", protocol.RoleModerator)
	defer mod.Close()
	stu := connectClient(t, env, "p1", protocol.RoleParticipant)
	defer stu.Close()

	join(t, mod, "r1")
	join(t, stu, "r1")
	readUntil(t, mod, func(m protocol.Message) bool {
		return m.Type == protocol.TypeParticipants && strings.Contains(string(m.Payload), `"p1"`)
	})

	writeMsg(t, stu, protocol.Message{Type: protocol.TypeOffer, Payload: json.RawMessage(`{"sdp":"v=0"}`)})
	offer := readUntil(t, mod, isType(protocol.TypeOffer))
	if offer.From != "p1" || offer.Role != protocol.RoleParticipant {
		t.Fatalf("offer not annotated with sender: %+v", offer)
	}
	var sig protocol.SignalPayload
	if err := json.Unmarshal(offer.Payload, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if string(sig.Data) != `{"sdp":"v=0"}` {
		t.Fatalf("signal data altered: %s", sig.Data)
	}
}

func TestModeratorGatingOverWire(t *testing.T) {
	env := startTestServer(t, Options{})
	stu := connectClient(t, env, "p1", protocol.RoleParticipant)
	defer stu.Close()
	join(t, stu, "r1")

	writeMsg(t, stu, protocol.NewMessage(protocol.TypeMuteAll, nil))
	errMsg := readUntil(t, stu, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeForbidden || errMsg.Error.RequestType != protocol.TypeMuteAll {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}
}

func TestWhiteboardAndChatOverWire(t *testing.T) {
	env := startTestServer(t, Options{})
	mod := connectClient(t, env, "m1", protocol.RoleModerator)
	defer mod.Close()
	stu := connectClient(t, env, "p1", protocol.RoleParticipant)
	defer stu.Close()
	join(t, mod, "r1")

	writeMsg(t, mod, protocol.NewMessage(protocol.TypeWhiteboardCommand, map[string]any{
		"command": map[string]any{"type": "start", "x": 10, "y": 20, "color": "#FF0000"},
	}))
	join(t, stu, "r1")
	sync := readUntil(t, stu, isType(protocol.TypeWhiteboardSync))
	if !strings.Contains(string(sync.Payload), `"color":"#ff0000"`) {
		t.Fatalf("expected sanitized history in sync, got %s", sync.Payload)
	}

	writeMsg(t, stu, protocol.NewMessage(protocol.TypeChatMessage, protocol.ChatRequest{Content: "hi", IsGroupMessage: true}))
	got := readUntil(t, mod, isType(protocol.TypeChatMessage))
	if got.UserID != "p1" || !strings.Contains(string(got.Payload), `"content":"hi"`) {
		t.Fatalf("unexpected chat message: %+v", got)
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	env := startTestServer(t, Options{})
	conn := connectClient(t, env, "p1", protocol.RoleParticipant)
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	errMsg := readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeValidation {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}

	writeMsg(t, conn, protocol.Message{Type: "room:dance"})
	errMsg = readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.RequestType != "room:dance" {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}

	writeMsg(t, conn, protocol.Message{Type: protocol.TypePing})
	readUntil(t, conn, isType(protocol.TypePong))
}

func TestRateLimitedMessagesAreRejected(t *testing.T) {
	env := startTestServer(t, Options{RateLimit: 0.5, RateBurst: 2})
	conn := connectClient(t, env, "p1", protocol.RoleParticipant)
	defer conn.Close()

	// the auth message already spent one token
	for i := 0; i < 3; i++ {
		writeMsg(t, conn, protocol.Message{Type: protocol.TypePing})
	}
	errMsg := readUntil(t, conn, isType(protocol.TypeError))
	if errMsg.Error.Code != protocol.CodeRateLimited || errMsg.Error.RequestType != protocol.TypePing {
		t.Fatalf("unexpected error: %+v", errMsg.Error)
	}
}

func TestDisconnectLeavesRoomOverWire(t *testing.T) {
	env := startTestServer(t, Options{})
	mod := connectClient(t, env, "m1", protocol.RoleModerator)
	defer mod.Close()
	stu := connectClient(t, env, "p1", protocol.RoleParticipant)

	join(t, mod, "r1")
	join(t, stu, "r1")
	readUntil(t, mod, func(m protocol.Message) bool {
		return m.Type == protocol.TypeParticipants && strings.Contains(string(m.Payload), `"p1"`)
	})

	_ = stu.Close()
	readUntil(t, mod, func(m protocol.Message) bool {
		return m.Type == protocol.TypeParticipants && !strings.Contains(string(m.Payload), `"p1"`)
	})

	deadline := time.Now().Add(2 * time.Second)
	for env.coord.Registry().Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one open connection, have %d", env.coord.Registry().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startTestServer(t *testing.T, opts Options) testEnv {
	t.Helper()

	j, err := auth.NewJWT("test-secret")
	if err != nil {
		t.Fatalf("new jwt: %v", err)
	}
	coord := core.New(core.Options{Persister: nopPersister{}})
	e := echo.New()
	NewHandler(coord, j, opts).Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	return testEnv{
		coord: coord,
		jwt:   j,
		wsURL: "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
}

func issue(t *testing.T, env testEnv, id string, role protocol.Role) string {
	t.Helper()
	token, err := env.jwt.Issue(protocol.Identity{ID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func dial(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func connectClient(t *testing.T, env testEnv, id string, role protocol.Role) *websocket.Conn {
	t.Helper()
	conn := dial(t, env.wsURL+"/ws")
	writeMsg(t, conn, protocol.NewMessage(protocol.TypeAuth, protocol.AuthRequest{Token: issue(t, env, id, role)}))
	readUntil(t, conn, isType(protocol.TypeAuthOK))
	return conn
}

func join(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	writeMsg(t, conn, protocol.NewMessage(protocol.TypeJoin, protocol.RoomRequest{RoomToken: room}))
	readUntil(t, conn, isType(protocol.TypeParticipants))
}

func isType(typ string) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Type == typ }
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

// readUntil reads until match accepts a message. A read timeout breaks a
// gorilla connection for good, so one deadline covers the whole wait.
func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Message) bool) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}
