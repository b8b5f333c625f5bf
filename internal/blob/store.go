package blob

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Darsh20009/youspeak-sub000/internal/store"
	"github.com/Darsh20009/youspeak-sub000/internal/whiteboard"
)

// KindWhiteboardExport marks blobs holding a serialized whiteboard snapshot.
const KindWhiteboardExport = "whiteboard-export"

const exportContentType = "application/json"

// Store keeps export bytes on disk and their metadata in sqlite.
type Store struct {
	rootDir string
	meta    *store.Store
	now     func() time.Time
}

// PutInput describes one blob to write.
type PutInput struct {
	Kind         string
	RoomToken    string
	OriginalName string
	ContentType  string
	Reader       io.Reader
}

// OpenResult is a blob's metadata with its opened file.
type OpenResult struct {
	Metadata store.BlobMetadata
	File     *os.File
}

// NewStore creates a blob store rooted at rootDir.
func NewStore(rootDir string, meta *store.Store) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("sqlite metadata store is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	slog.Debug("blob store initialized", "dir", rootDir)
	return &Store{rootDir: rootDir, meta: meta, now: time.Now}, nil
}

// SaveSnapshot serializes a whiteboard snapshot as a JSON export.
func (s *Store) SaveSnapshot(ctx context.Context, snap whiteboard.Snapshot) (store.BlobMetadata, error) {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return store.BlobMetadata{}, fmt.Errorf("encode whiteboard snapshot: %w", err)
	}
	return s.Put(ctx, PutInput{
		Kind:         KindWhiteboardExport,
		RoomToken:    snap.RoomToken,
		OriginalName: fmt.Sprintf("whiteboard-%s-%d.json", snap.RoomToken, snap.TakenAt.UnixMilli()),
		ContentType:  exportContentType,
		Reader:       bytes.NewReader(raw),
	})
}

// Put writes bytes under a uuid name and records their metadata.
func (s *Store) Put(ctx context.Context, in PutInput) (store.BlobMetadata, error) {
	if in.Reader == nil {
		return store.BlobMetadata{}, fmt.Errorf("blob reader is required")
	}
	name := strings.TrimSpace(in.OriginalName)
	if name == "" {
		return store.BlobMetadata{}, fmt.Errorf("blob original name is required")
	}
	meta := store.BlobMetadata{
		ID:           uuid.New().String(),
		Kind:         cmp.Or(strings.TrimSpace(in.Kind), "blob"),
		RoomToken:    strings.TrimSpace(in.RoomToken),
		OriginalName: name,
		ContentType:  cmp.Or(strings.TrimSpace(in.ContentType), "application/octet-stream"),
		CreatedAt:    s.now().UTC(),
	}
	meta.DiskName = meta.ID

	size, err := s.writeFile(meta.DiskName, in.Reader)
	if err != nil {
		return store.BlobMetadata{}, err
	}
	meta.SizeBytes = size

	if err := s.meta.CreateBlob(ctx, meta); err != nil {
		_ = os.Remove(filepath.Join(s.rootDir, meta.DiskName))
		return store.BlobMetadata{}, fmt.Errorf("persist blob metadata: %w", err)
	}

	slog.Info("blob stored", "blob_id", meta.ID, "kind", meta.Kind, "room", meta.RoomToken, "size", size)
	return meta, nil
}

// writeFile stages r in a temp file and renames it into place.
func (s *Store) writeFile(diskName string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(s.rootDir, ".blob-write-*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob file: %w", err)
	}
	tmpPath := tmp.Name()

	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return 0, fmt.Errorf("write blob bytes: %w", copyErr)
		}
		return 0, fmt.Errorf("close blob file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.rootDir, diskName)); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("move blob into place: %w", err)
	}
	return size, nil
}

// Open resolves blob metadata and opens the on-disk bytes.
func (s *Store) Open(ctx context.Context, id string) (OpenResult, error) {
	meta, err := s.meta.BlobByID(ctx, id)
	if err != nil {
		return OpenResult{}, err
	}

	path := filepath.Join(s.rootDir, meta.DiskName)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("blob file open failed", "blob_id", id, "path", path, "err", err)
		return OpenResult{}, fmt.Errorf("open blob file: %w", err)
	}
	return OpenResult{Metadata: meta, File: f}, nil
}

// List returns the exports recorded for a room, newest first.
func (s *Store) List(ctx context.Context, roomToken string) ([]store.BlobMetadata, error) {
	return s.meta.BlobsByRoom(ctx, roomToken)
}
