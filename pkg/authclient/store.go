package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is what a client persists between runs.
type State struct {
	AccessToken string    `json:"accessToken,omitempty"`
	Snapshot    Snapshot  `json:"snapshot"`
	SavedAt     time.Time `json:"savedAt"`
}

// SnapshotStore persists client session state. Load returns nil, nil when
// nothing was saved.
type SnapshotStore interface {
	Load() (*State, error)
	Save(state *State) error
	Clear() error
}

// FileSnapshotStore keeps State as a JSON file readable only by its owner.
type FileSnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSnapshotStore creates a store at path. The file is created on first Save.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Load reads the saved state.
func (s *FileSnapshotStore) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &state, nil
}

// Save replaces the saved state atomically.
func (s *FileSnapshotStore) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create session state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

// Clear deletes the saved state.
func (s *FileSnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}
