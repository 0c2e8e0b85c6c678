package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileName is the queue file inside the config directory
const FileName = "queue.json"

// Store persists a queue as JSON
type Store[T comparable] struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewStore creates a store writing FileName under dir on fsys
func NewStore[T comparable](fsys afero.Fs, dir string) *Store[T] {
	return &Store[T]{fs: fsys, path: filepath.Join(dir, FileName)}
}

// Path returns the queue file path
func (s *Store[T]) Path() string {
	return s.path
}

// Load restores q from disk. A missing file leaves q untouched.
func (s *Store[T]) Load(q *MediaQueue[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue file: %w", err)
	}

	var snap Snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}
	q.Restore(snap)
	return nil
}

// Save writes q to disk, replacing the previous file atomically
func (s *Store[T]) Save(q *MediaQueue[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(q.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}
