// Package state persists the durable record of installed mod versions.
//
// LocalState is the only globally mutable state in the system: it is updated
// if and only if an install transaction committed successfully, and it is the
// single point of truth for what is currently on disk.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/logfields"
)

const stateFileName = "state.json"

// InstalledRecord captures one installed package version.
type InstalledRecord struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	SHA256  string `json:"sha256"`
}

// LocalState is the on-disk document.
type LocalState struct {
	Records       map[string]InstalledRecord `json:"records"`
	LastCheckedAt time.Time                  `json:"last_checked_at"`
}

// Store persists LocalState via write-to-temporary-file-then-rename so the
// on-disk file is never observed half-written. All mutation is serialized
// behind a single writer.
type Store struct {
	path string

	mu    sync.Mutex
	state LocalState
}

// NewStore opens (or initializes) the state store under dataDir. A missing or
// unparsable state file is treated as an empty state, never as a fatal error:
// the next check cycle reconciles by re-plan, and installation is idempotent.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, lerrors.StateUnwritable(dataDir, err)
	}

	s := &Store{
		path:  filepath.Join(dataDir, stateFileName),
		state: LocalState{Records: make(map[string]InstalledRecord)},
	}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		slog.Warn("State file unreadable, starting from empty state",
			logfields.Path(s.path), logfields.Error(err))
		return s, nil
	}

	var loaded LocalState
	if err := json.Unmarshal(data, &loaded); err != nil {
		corrupt := lerrors.StateCorrupt(s.path, err)
		slog.Warn("State file corrupt, starting from empty state",
			logfields.Path(s.path), logfields.Error(corrupt))
		return s, nil
	}
	if loaded.Records == nil {
		loaded.Records = make(map[string]InstalledRecord)
	}
	s.state = loaded
	return s, nil
}

// Load returns a deep copy of the current state. Readers during planning
// always see a fully-written prior state.
func (s *Store) Load() LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := LocalState{
		Records:       make(map[string]InstalledRecord, len(s.state.Records)),
		LastCheckedAt: s.state.LastCheckedAt,
	}
	for id, rec := range s.state.Records {
		out.Records[id] = rec
	}
	return out
}

// Record commits a new installed record and persists the state.
func (s *Store) Record(id, version, sha256 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.state.Records[id]
	s.state.Records[id] = InstalledRecord{ID: id, Version: version, SHA256: sha256}
	if err := s.persistLocked(); err != nil {
		// Roll the in-memory map back so memory and disk stay consistent.
		if existed {
			s.state.Records[id] = prev
		} else {
			delete(s.state.Records, id)
		}
		return err
	}
	return nil
}

// Remove deletes a record and persists the state. Removing an absent id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.state.Records[id]
	if !existed {
		return nil
	}
	delete(s.state.Records, id)
	if err := s.persistLocked(); err != nil {
		s.state.Records[id] = prev
		return err
	}
	return nil
}

// Touch updates the last-checked timestamp and persists the state.
func (s *Store) Touch(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.LastCheckedAt
	s.state.LastCheckedAt = at
	if err := s.persistLocked(); err != nil {
		s.state.LastCheckedAt = prev
		return err
	}
	return nil
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// persistLocked writes the state file atomically. Callers must hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return lerrors.StateUnwritable(s.path, fmt.Errorf("marshal state: %w", err))
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return lerrors.StateUnwritable(s.path, err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return lerrors.StateUnwritable(s.path, err)
	}
	return nil
}
