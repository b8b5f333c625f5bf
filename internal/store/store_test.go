package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateBlobAndLookup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	in := BlobMetadata{
		ID:           "35e748f1-45ef-4f12-b5e3-f17fe80326b0",
		Kind:         "whiteboard-export",
		RoomToken:    "room-a",
		OriginalName: "room-a-whiteboard.json",
		ContentType:  "application/json",
		DiskName:     "35e748f1-45ef-4f12-b5e3-f17fe80326b0",
		SizeBytes:    42,
		CreatedAt:    time.UnixMilli(1_700_000_000_000).UTC(),
	}
	if err := st.CreateBlob(context.Background(), in); err != nil {
		t.Fatalf("create blob metadata: %v", err)
	}

	got, err := st.BlobByID(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("lookup blob metadata: %v", err)
	}
	if got != in {
		t.Fatalf("unexpected blob metadata: %#v", got)
	}

	list, err := st.BlobsByRoom(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(list) != 1 || list[0].ID != in.ID {
		t.Fatalf("unexpected blob list: %#v", list)
	}
}

func TestBlobByIDNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	_, err := st.BlobByID(context.Background(), "missing")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestPersistAndListRoomMessages(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	tick := 0
	st.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := st.PersistMessage(ctx, chat.Draft{SenderID: "p1", RoomToken: "room-a", Content: "hello", Kind: chat.KindText, IsGroup: true})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if first.ID <= 0 {
		t.Fatalf("expected positive message id, got %d", first.ID)
	}
	if _, err := st.PersistMessage(ctx, chat.Draft{SenderID: "m1", RoomToken: "room-a", Content: "welcome", Kind: chat.KindText, IsGroup: true}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := st.PersistMessage(ctx, chat.Draft{SenderID: "p1", RecipientID: "m1", RoomToken: "room-a", Content: "psst", Kind: chat.KindText}); err != nil {
		t.Fatalf("persist direct: %v", err)
	}

	rows, err := st.RoomMessages(ctx, "room-a", 50)
	if err != nil {
		t.Fatalf("room messages: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 group messages, got %d", len(rows))
	}
	if rows[0].Content != "hello" || rows[1].Content != "welcome" {
		t.Fatalf("expected oldest-first order, got %+v", rows)
	}
	if !rows[0].CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at mismatch: %s vs %s", rows[0].CreatedAt, first.CreatedAt)
	}

	limited, err := st.RoomMessages(ctx, "room-a", 1)
	if err != nil {
		t.Fatalf("room messages limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Content != "welcome" {
		t.Fatalf("expected only the newest message, got %+v", limited)
	}
}

func TestDirectMessagesBothDirections(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, d := range []chat.Draft{
		{SenderID: "p1", RecipientID: "m1", Content: "question", Kind: chat.KindText},
		{SenderID: "m1", RecipientID: "p1", Content: "answer", Kind: chat.KindText},
		{SenderID: "p2", RecipientID: "m1", Content: "other", Kind: chat.KindText},
	} {
		if _, err := st.PersistMessage(ctx, d); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}

	rows, err := st.DirectMessages(ctx, "m1", "p1", 10)
	if err != nil {
		t.Fatalf("direct messages: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 messages between m1 and p1, got %d", len(rows))
	}
	if rows[0].Content != "question" || rows[1].Content != "answer" {
		t.Fatalf("unexpected direct messages: %+v", rows)
	}
}

func TestPersistRequiresSender(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.PersistMessage(context.Background(), chat.Draft{Content: "x"}); err == nil {
		t.Fatal("expected error for missing sender")
	}
}

func TestConcurrentPersistAllSucceed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	const senders, perSender = 16, 20
	errs := make(chan error, senders*perSender*2)
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender := fmt.Sprintf("p%d", i)
			for j := range perSender {
				d := chat.Draft{SenderID: sender, RoomToken: "room-a", Content: fmt.Sprintf("msg %d", j), Kind: chat.KindText, IsGroup: true}
				if _, err := st.PersistMessage(ctx, d); err != nil {
					errs <- err
				}
				if _, err := st.RoomMessages(ctx, "room-a", 5); err != nil {
					errs <- err
				}
			}
			meta := BlobMetadata{
				ID:           "blob-" + sender,
				Kind:         "whiteboard-export",
				RoomToken:    "room-a",
				OriginalName: sender + ".json",
				ContentType:  "application/json",
				DiskName:     "blob-" + sender,
				CreatedAt:    time.Now(),
			}
			if err := st.CreateBlob(ctx, meta); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
		failed++
	}
	if failed > 0 {
		t.Fatalf("%d concurrent writes failed; first: %v", failed, first)
	}

	rows, err := st.RoomMessages(ctx, "room-a", 1000)
	if err != nil {
		t.Fatalf("room messages: %v", err)
	}
	if len(rows) != senders*perSender {
		t.Fatalf("expected %d stored messages, got %d", senders*perSender, len(rows))
	}
	blobs, err := st.BlobsByRoom(ctx, "room-a")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(blobs) != senders {
		t.Fatalf("expected %d blobs, got %d", senders, len(blobs))
	}
}

func TestTwoHandlesShareDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "coordinator.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	errs := make(chan error, 100)
	var wg sync.WaitGroup
	for _, st := range []*Store{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := st.PersistMessage(ctx, chat.Draft{SenderID: "p1", RoomToken: "room-b", Content: "hi", Kind: chat.KindText, IsGroup: true}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("write through second handle failed: %v", err)
	}

	rows, err := a.RoomMessages(ctx, "room-b", 1000)
	if err != nil {
		t.Fatalf("room messages: %v", err)
	}
	if len(rows) != 100 {
		t.Fatalf("expected 100 messages, got %d", len(rows))
	}
}
