package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// QuotaState is the only durable piece of governor state.
type QuotaState struct {
	DailyCalls    int    `json:"dailyCalls"`
	LastResetDate string `json:"lastResetDate"`
}

// QuotaStore persists QuotaState under one fixed key. Load returns
// ErrQuotaStateNotFound when nothing has been written yet; every other
// failure should satisfy errors.Is(err, ErrPersistenceUnavailable).
type QuotaStore interface {
	Load(ctx context.Context) (QuotaState, error)
	Save(ctx context.Context, state QuotaState) error
}

// MemoryQuotaStore keeps state for the process lifetime only.
type MemoryQuotaStore struct {
	mu    sync.Mutex
	state *QuotaState
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{}
}

func (s *MemoryQuotaStore) Load(ctx context.Context) (QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return QuotaState{}, ErrQuotaStateNotFound
	}
	return *s.state, nil
}

func (s *MemoryQuotaStore) Save(ctx context.Context, state QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	return nil
}

// FileQuotaStore writes JSON to a file with a tmp+rename so a crash never
// leaves a torn document behind.
type FileQuotaStore struct {
	mu   sync.Mutex
	path string
}

func NewFileQuotaStore(path string) *FileQuotaStore {
	return &FileQuotaStore{path: path}
}

func (s *FileQuotaStore) Path() string { return s.path }

func (s *FileQuotaStore) Load(ctx context.Context) (QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return QuotaState{}, ErrQuotaStateNotFound
	}
	if err != nil {
		return QuotaState{}, &PersistenceError{Op: "load", Store: "file", Err: err}
	}

	var state QuotaState
	if err := json.Unmarshal(data, &state); err != nil {
		return QuotaState{}, &PersistenceError{Op: "load", Store: "file", Err: fmt.Errorf("parse %s: %w", s.path, err)}
	}
	return state, nil
}

func (s *FileQuotaStore) Save(ctx context.Context, state QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return &PersistenceError{Op: "save", Store: "file", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &PersistenceError{Op: "save", Store: "file", Err: err}
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return &PersistenceError{Op: "save", Store: "file", Err: fmt.Errorf("write temp file: %w", err)}
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return &PersistenceError{Op: "save", Store: "file", Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}
