package mcphost

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ToolOverride is the persisted per-tool record. TurnOn nil means the tool
// keeps its default of enabled.
type ToolOverride struct {
	TurnOn *bool  `json:"turn-on,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ServerState is the persisted per-server record inside the override
// document: an optional server-level enabled flag plus tool overrides.
type ServerState struct {
	Enabled *bool                   `json:"enabled,omitempty"`
	Tools   map[string]ToolOverride `json:"tools,omitempty"`
}

// StateStore reads and writes the tool override document. The document is
// loaded as a whole on every aggregation so edits made by the admin surface
// take effect without a restart.
type StateStore struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewStateStore binds a store to the document path. The file is created on
// first load when missing.
func NewStateStore(path string, logger *zap.Logger) *StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{path: path, logger: logger}
}

// Path returns the document location.
func (s *StateStore) Path() string { return s.path }

// Load reads the whole override document. A missing file is seeded with an
// empty document; a corrupt one degrades to empty with a log entry. Load
// never fails.
func (s *StateStore) Load() map[string]ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *StateStore) loadLocked() map[string]ServerState {
	empty := map[string]ServerState{}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err == nil {
				_ = os.WriteFile(s.path, []byte("{}"), 0o644)
			}
			return empty
		}
		s.logger.Warn("tool state file unreadable", zap.String("path", s.path), zap.Error(err))
		return empty
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	var states map[string]ServerState
	if err := json.Unmarshal(raw, &states); err != nil {
		s.logger.Warn("tool state file corrupt", zap.String("path", s.path), zap.Error(err))
		return empty
	}
	if states == nil {
		states = empty
	}
	return states
}

// Save writes the whole document atomically via a temp file rename.
func (s *StateStore) Save(states map[string]ServerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(states)
}

func (s *StateStore) saveLocked(states map[string]ServerState) error {
	if states == nil {
		states = map[string]ServerState{}
	}
	raw, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// SetToolOverride updates one tool's record and persists the document.
// Passing a nil turnOn leaves the existing flag untouched; a nil note leaves
// the existing note untouched.
func (s *StateStore) SetToolOverride(server, tool string, turnOn *bool, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.loadLocked()
	sstate := states[server]
	if sstate.Tools == nil {
		sstate.Tools = map[string]ToolOverride{}
	}
	entry := sstate.Tools[tool]
	if turnOn != nil {
		entry.TurnOn = turnOn
	}
	if note != nil {
		entry.Note = *note
	}
	sstate.Tools[tool] = entry
	states[server] = sstate
	return s.saveLocked(states)
}

// ToolEnabled reports the effective flag for one tool under the default-on
// rule: only an explicit turn-on=false excludes a tool.
func ToolEnabled(states map[string]ServerState, server, tool string) bool {
	entry, ok := states[server].Tools[tool]
	if !ok || entry.TurnOn == nil {
		return true
	}
	return *entry.TurnOn
}

// ToolNote returns the persisted annotation for one tool, or "".
func ToolNote(states map[string]ServerState, server, tool string) string {
	return states[server].Tools[tool].Note
}
