package refcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SequenceState is the persisted tuple the generator consumes.
// Date uses the YYYY-MM-DD form; the zero value means "never generated".
type SequenceState struct {
	Date     string `json:"date"`
	Sequence int    `json:"sequence"`
}

// SequenceStore persists the generator's daily counter. Load returns the
// last saved state or the zero state; Save is last-writer-wins.
type SequenceStore interface {
	Load(ctx context.Context) (SequenceState, error)
	Save(ctx context.Context, state SequenceState) error
}

// FileSequenceStore keeps the sequence state in a JSON file. A missing or
// corrupt file reads as the zero state so a damaged file self-heals on the
// next save.
type FileSequenceStore struct {
	path string
}

// NewFileSequenceStore creates a store backed by the given file path.
func NewFileSequenceStore(path string) *FileSequenceStore {
	return &FileSequenceStore{path: path}
}

// Load reads the persisted state.
func (s *FileSequenceStore) Load(ctx context.Context) (SequenceState, error) {
	if err := ctx.Err(); err != nil {
		return SequenceState{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SequenceState{}, nil
		}
		return SequenceState{}, fmt.Errorf("read sequence file: %w", err)
	}
	var state SequenceState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt payloads are treated as the zero state.
		return SequenceState{}, nil
	}
	return state, nil
}

// Save writes the state, creating the parent directory if needed.
func (s *FileSequenceStore) Save(ctx context.Context, state SequenceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sequence dir: %w", err)
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal sequence state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write sequence file: %w", err)
	}
	return nil
}

// MemorySequenceStore is an in-process store for tests and ephemeral runs.
type MemorySequenceStore struct {
	mu    sync.Mutex
	state SequenceState
}

// NewMemorySequenceStore creates an empty in-memory store.
func NewMemorySequenceStore() *MemorySequenceStore {
	return &MemorySequenceStore{}
}

// Load returns the current state.
func (s *MemorySequenceStore) Load(ctx context.Context) (SequenceState, error) {
	if err := ctx.Err(); err != nil {
		return SequenceState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Save replaces the current state.
func (s *MemorySequenceStore) Save(ctx context.Context, state SequenceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}
