package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/chat"

	_ "modernc.org/sqlite"
)

// ErrBlobNotFound is returned when no blob metadata exists for an ID.
var ErrBlobNotFound = errors.New("blob metadata not found")

// BlobMetadata stores metadata about a binary blob on disk.
type BlobMetadata struct {
	ID           string
	Kind         string
	RoomToken    string
	OriginalName string
	ContentType  string
	DiskName     string
	SizeBytes    int64
	CreatedAt    time.Time
}

// Store persists chat messages and export metadata in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serialises writers; pragmas apply per connection.
	db.SetMaxOpenConns(1)

	st := &Store{db: db, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	room_token TEXT NOT NULL DEFAULT '',
	original_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	disk_name TEXT NOT NULL UNIQUE,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_room ON blobs(room_token, created_at_unix_ms);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL DEFAULT '',
	room_token TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	kind TEXT NOT NULL,
	is_group INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_token, created_at_unix_ms);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, recipient_id, created_at_unix_ms);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// PersistMessage stores a chat draft and returns the stored message.
func (s *Store) PersistMessage(ctx context.Context, d chat.Draft) (chat.Message, error) {
	if strings.TrimSpace(d.SenderID) == "" {
		return chat.Message{}, fmt.Errorf("sender id is required")
	}
	createdAt := s.now().UTC().Truncate(time.Millisecond)

	const q = `
INSERT INTO messages (sender_id, recipient_id, room_token, content, kind, is_group, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	result, err := s.db.ExecContext(ctx, q, d.SenderID, d.RecipientID, d.RoomToken, d.Content, d.Kind, boolToInt(d.IsGroup), createdAt.UnixMilli())
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("read message id: %w", err)
	}
	slog.Debug("message persisted", "msg_id", id, "sender_id", d.SenderID, "room", d.RoomToken, "group", d.IsGroup)

	return chat.Message{
		ID:          id,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		RoomToken:   d.RoomToken,
		Content:     d.Content,
		Kind:        d.Kind,
		IsGroup:     d.IsGroup,
		CreatedAt:   createdAt,
	}, nil
}

// RoomMessages returns the most recent group messages of a room, oldest first.
func (s *Store) RoomMessages(ctx context.Context, roomToken string, limit int) ([]chat.Message, error) {
	const q = `
SELECT id, sender_id, recipient_id, room_token, content, kind, is_group, created_at_unix_ms
FROM messages
WHERE room_token = ? AND is_group = 1
ORDER BY created_at_unix_ms DESC, id DESC
LIMIT ?
`
	return s.queryMessages(ctx, q, roomToken, clampLimit(limit))
}

// DirectMessages returns the most recent direct messages exchanged between
// two identities, oldest first.
func (s *Store) DirectMessages(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	const q = `
SELECT id, sender_id, recipient_id, room_token, content, kind, is_group, created_at_unix_ms
FROM messages
WHERE is_group = 0 AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))
ORDER BY created_at_unix_ms DESC, id DESC
LIMIT ?
`
	return s.queryMessages(ctx, q, a, b, b, a, clampLimit(limit))
}

func (s *Store) queryMessages(ctx context.Context, q string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m        chat.Message
			isGroup  int
			createdM int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.RoomToken, &m.Content, &m.Kind, &isGroup, &createdM); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsGroup = isGroup != 0
		m.CreatedAt = time.UnixMilli(createdM).UTC()
		msgs = append(msgs, m)
	}
	// Reverse to oldest-first order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

// CreateBlob creates one blob metadata row.
func (s *Store) CreateBlob(ctx context.Context, meta BlobMetadata) error {
	if strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("blob id is required")
	}
	if strings.TrimSpace(meta.Kind) == "" {
		return fmt.Errorf("blob kind is required")
	}
	if strings.TrimSpace(meta.OriginalName) == "" {
		return fmt.Errorf("blob original name is required")
	}
	if strings.TrimSpace(meta.ContentType) == "" {
		return fmt.Errorf("blob content type is required")
	}
	if strings.TrimSpace(meta.DiskName) == "" {
		return fmt.Errorf("blob disk name is required")
	}
	if meta.SizeBytes < 0 {
		return fmt.Errorf("blob size must be non-negative")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}

	const q = `
INSERT INTO blobs (
	id, kind, room_token, original_name, content_type, disk_name, size_bytes, created_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q,
		meta.ID,
		meta.Kind,
		meta.RoomToken,
		meta.OriginalName,
		meta.ContentType,
		meta.DiskName,
		meta.SizeBytes,
		meta.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert blob metadata: %w", err)
	}
	slog.Debug("blob metadata created", "blob_id", meta.ID, "room", meta.RoomToken, "size", meta.SizeBytes)
	return nil
}

// BlobByID returns blob metadata by UUID.
func (s *Store) BlobByID(ctx context.Context, id string) (BlobMetadata, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return BlobMetadata{}, fmt.Errorf("blob id is required")
	}

	const q = `
SELECT id, kind, room_token, original_name, content_type, disk_name, size_bytes, created_at_unix_ms
FROM blobs
WHERE id = ?
`
	var (
		meta           BlobMetadata
		createdAtUnixM int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&meta.ID,
		&meta.Kind,
		&meta.RoomToken,
		&meta.OriginalName,
		&meta.ContentType,
		&meta.DiskName,
		&meta.SizeBytes,
		&createdAtUnixM,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BlobMetadata{}, ErrBlobNotFound
		}
		return BlobMetadata{}, fmt.Errorf("query blob metadata: %w", err)
	}
	meta.CreatedAt = time.UnixMilli(createdAtUnixM).UTC()
	return meta, nil
}

// BlobsByRoom lists export metadata for a room, newest first.
func (s *Store) BlobsByRoom(ctx context.Context, roomToken string) ([]BlobMetadata, error) {
	const q = `
SELECT id, kind, room_token, original_name, content_type, disk_name, size_bytes, created_at_unix_ms
FROM blobs
WHERE room_token = ?
ORDER BY created_at_unix_ms DESC, id
`
	rows, err := s.db.QueryContext(ctx, q, roomToken)
	if err != nil {
		return nil, fmt.Errorf("query blobs: %w", err)
	}
	defer rows.Close()

	var out []BlobMetadata
	for rows.Next() {
		var (
			meta     BlobMetadata
			createdM int64
		)
		if err := rows.Scan(&meta.ID, &meta.Kind, &meta.RoomToken, &meta.OriginalName, &meta.ContentType, &meta.DiskName, &meta.SizeBytes, &createdM); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		meta.CreatedAt = time.UnixMilli(createdM).UTC()
		out = append(out, meta)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
