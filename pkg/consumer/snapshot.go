package consumer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot indicates no snapshot has been saved yet for the given name.
var ErrNoSnapshot = errors.New("no snapshot found")

// Snapshotter captures and restores a consumer's derived state as an opaque
// blob. Restore(Snapshot()) must reproduce equivalent observable state.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Store persists snapshot blobs by name. Implementations decide location
// and format; the consumer treats blobs as opaque.
type Store interface {
	// Save replaces the snapshot stored under name.
	Save(name string, data []byte) error
	// Load returns the snapshot stored under name, or ErrNoSnapshot.
	Load(name string) ([]byte, error)
}

// FileStore keeps one snapshot file per name under a directory. Writes go
// through a temp file and rename so a crash mid-write never corrupts the
// previous snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".snapshot")
}

// Save implements Store.
func (s *FileStore) Save(name string, data []byte) error {
	final := s.path(name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit snapshot %s: %w", name, err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return data, nil
}
