// Package storage persists the small amount of local state that must
// survive restarts: session identity, auth token, preferences, and the
// last known connection state.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

const stateFile = "state.json"

// State is everything we keep on disk.
type State struct {
	SessionID       string               `json:"session_id,omitempty"`
	Token           string               `json:"auth_token,omitempty"`
	Preferences     protocol.Preferences `json:"preferences"`
	ConnectionState string               `json:"connection_state,omitempty"`
}

// Store reads and writes State under a single directory. Writes go
// through a temp file and rename so a crash never leaves half a file.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// Open prepares dir and returns a Store over it.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{
		path:   filepath.Join(dir, stateFile),
		logger: logger.With(slog.String("component", "storage")),
	}, nil
}

// Load returns the persisted state. A missing or unreadable file yields
// a fresh state with default preferences; a client must come up even
// when its local storage was wiped or mangled.
func (s *Store) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := State{Preferences: protocol.DefaultPreferences()}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read persisted state, starting fresh", slog.Any("error", err))
		}
		return fresh
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("persisted state is corrupted, starting fresh", slog.Any("error", err))
		return fresh
	}
	if st.Preferences.Theme == "" && st.Preferences.Language == "" {
		st.Preferences = protocol.DefaultPreferences()
	}
	return st
}

// Save writes st to disk atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
