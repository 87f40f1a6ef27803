package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotStore persists build output between process starts. Saves replace
// the previous snapshot wholesale; there is no partial update.
type SnapshotStore interface {
	// Load returns the stored snapshot, or nil when there is none.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	// Clear drops the stored snapshot.
	Clear(ctx context.Context) error
}

// FileStore keeps the snapshot as a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{
		path: filepath.Join(dataDir, "index.json"),
	}
}

// Path returns the location of the JSON file.
func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot file. Returns nil if the file doesn't exist.
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	return &snap, nil
}

// Save writes to a temporary file and renames it over the old one, so a
// crash never leaves a half-written index behind.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index file: %w", err)
	}
	return nil
}
