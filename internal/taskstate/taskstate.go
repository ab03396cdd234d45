// Package taskstate tracks per-task reliability statistics.
package taskstate

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// FlushEvery is how many updates to a single key trigger a flush.
const FlushEvery = 5

// Store holds task states keyed by source:identifier and persists them
// as a single JSON object.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	states  map[string]*models.TaskState
	pending map[string]int
}

// New creates a store backed by path. Call Load to read existing state.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		path:    path,
		logger:  logger,
		states:  make(map[string]*models.TaskState),
		pending: make(map[string]int),
	}
}

// Load reads the snapshot from disk. A missing file is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read task state: %w", err)
	}

	var decoded map[string]*models.TaskState
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode task state: %w", err)
	}
	// a "null" file or null entries decode to nil
	states := make(map[string]*models.TaskState, len(decoded))
	for k, v := range decoded {
		if v != nil {
			states[k] = v
		}
	}

	s.mu.Lock()
	s.states = states
	s.mu.Unlock()
	return nil
}

// Record adds one outcome for key. runErr nil means success.
func (s *Store) Record(key string, duration time.Duration, runErr error, at time.Time) models.TaskState {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = &models.TaskState{}
		s.states[key] = st
	}
	ms := duration.Milliseconds()
	st.Runs++
	st.TotalDurationMs += ms
	st.LastRunAt = at
	st.LastDurationMs = ms
	if runErr != nil {
		st.Failures++
		st.LastStatus = models.StatusFailed
		st.LastError = runErr.Error()
	} else {
		st.LastStatus = models.StatusSuccess
		st.LastError = ""
	}
	out := *st

	s.pending[key]++
	flush := s.pending[key] >= FlushEvery
	if flush {
		s.pending[key] = 0
	}
	s.mu.Unlock()

	if flush {
		if err := s.Flush(); err != nil {
			s.logger.Warn("task state flush failed", "key", key, "error", err)
		}
	}
	return out
}

// Get returns the state for key.
func (s *Store) Get(key string) (models.TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return models.TaskState{}, false
	}
	return *st, true
}

// Snapshot returns a copy of every state.
func (s *Store) Snapshot() map[string]models.TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.TaskState, len(s.states))
	for k, v := range s.states {
		out[k] = *v
	}
	return out
}

// Flush rewrites the snapshot file.
func (s *Store) Flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.states, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
