package core

import (
	"testing"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

func TestRegistryConnectAssignsDistinctIDs(t *testing.T) {
	r := NewRegistry()
	a := r.Connect(4)
	b := r.Connect(4)
	if a.ConnID == b.ConnID {
		t.Fatalf("expected distinct connection ids, got %q twice", a.ConnID)
	}
	if r.Count() != 2 || r.IdentityCount() != 0 {
		t.Fatalf("expected 2 conns and 0 identities, got %d and %d", r.Count(), r.IdentityCount())
	}
	if _, ok := r.Identity(a.ConnID); ok {
		t.Fatal("fresh connection should not have an identity")
	}
}

func TestRegistryAuthenticateTrimsAndValidates(t *testing.T) {
	r := NewRegistry()
	s := r.Connect(4)

	if err := r.Authenticate(s.ConnID, protocol.Identity{ID: "  ", Role: protocol.RoleParticipant}); err == nil {
		t.Fatal("expected blank id to be rejected")
	}
	if err := r.Authenticate("c999", protocol.Identity{ID: "p1", Role: protocol.RoleParticipant}); err == nil {
		t.Fatal("expected unknown connection to be rejected")
	}
	if err := r.Authenticate(s.ConnID, protocol.Identity{ID: " p1 ", Role: protocol.RoleParticipant}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	id, ok := r.Identity(s.ConnID)
	if !ok || id.ID != "p1" {
		t.Fatalf("expected trimmed identity p1, got %+v", id)
	}
}

func TestRegistrySendToIdentityFollowsNewestConnection(t *testing.T) {
	r := NewRegistry()
	old := r.Connect(4)
	fresh := r.Connect(4)
	ident := protocol.Identity{ID: "p1", Role: protocol.RoleParticipant}
	if err := r.Authenticate(old.ConnID, ident); err != nil {
		t.Fatalf("authenticate old: %v", err)
	}
	if err := r.Authenticate(fresh.ConnID, ident); err != nil {
		t.Fatalf("authenticate fresh: %v", err)
	}

	if !r.SendToIdentity("p1", protocol.NewMessage(protocol.TypePong, nil)) {
		t.Fatal("send to identity failed")
	}
	select {
	case msg := <-fresh.Send:
		if msg.Type != protocol.TypePong {
			t.Fatalf("unexpected message %q", msg.Type)
		}
	default:
		t.Fatal("fresh connection did not receive the message")
	}
	select {
	case msg := <-old.Send:
		t.Fatalf("superseded connection received %q", msg.Type)
	default:
	}
	if !r.SendTo(old.ConnID, protocol.NewMessage(protocol.TypePong, nil)) {
		t.Fatal("superseded connection should still be addressable by conn id")
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := NewRegistry()
	s := r.Connect(4)
	if err := r.Authenticate(s.ConnID, protocol.Identity{ID: "m1", Role: protocol.RoleModerator}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	r.setRoom("m1", "r1")

	dep, ok := r.Deregister(s.ConnID)
	if !ok {
		t.Fatal("expected deregister to find the connection")
	}
	if !dep.Authenticated || !dep.Current || dep.Room != "r1" || dep.Identity.ID != "m1" {
		t.Fatalf("unexpected departure: %+v", dep)
	}
	if r.RoomOf("m1") != "" {
		t.Fatal("room mapping should be cleared")
	}
	if _, ok := r.Deregister(s.ConnID); ok {
		t.Fatal("second deregister should report not found")
	}
	if r.SendTo(s.ConnID, protocol.NewMessage(protocol.TypePong, nil)) {
		t.Fatal("send to a removed connection should fail")
	}
}

func TestRegistryClearRoomOnlyMatchingToken(t *testing.T) {
	r := NewRegistry()
	r.setRoom("p1", "r2")
	r.clearRoom("p1", "r1")
	if r.RoomOf("p1") != "r2" {
		t.Fatal("clearing a stale token must not drop the current room")
	}
	r.clearRoom("p1", "r2")
	if r.RoomOf("p1") != "" {
		t.Fatal("expected room to be cleared")
	}
}

func TestTrySendTimesOutOnFullQueue(t *testing.T) {
	ch := make(chan protocol.Message, 1)
	ch <- protocol.NewMessage(protocol.TypePong, nil)

	start := time.Now()
	if trySend(ch, protocol.NewMessage(protocol.TypePong, nil)) {
		t.Fatal("expected full queue to reject the send")
	}
	if elapsed := time.Since(start); elapsed < SendTimeout {
		t.Fatalf("returned after %v, before the send timeout", elapsed)
	}
}

func TestTrySendOnClosedQueue(t *testing.T) {
	ch := make(chan protocol.Message, 1)
	close(ch)
	if trySend(ch, protocol.NewMessage(protocol.TypePong, nil)) {
		t.Fatal("expected closed queue to reject the send")
	}
}
