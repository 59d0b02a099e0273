// Package memory persists the daemon's small state — conversation history,
// usage counters, and settings — in a single JSON file. Every mutation
// writes the whole file; the data is small and the simplicity wins.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxConversations bounds the stored history; the oldest entries fall off.
const maxConversations = 200

// Conversation is one stored user/assistant exchange.
type Conversation struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	AI        string    `json:"ai"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
}

type state struct {
	Conversations []Conversation `json:"conversations"`
	Statistics    map[string]int `json:"statistics"`
	Settings      map[string]any `json:"settings"`
}

// Store is the file-backed memory adapter. Safe for concurrent use.
type Store struct {
	path string

	mu sync.Mutex
	st state
}

// Open loads (or initializes) the memory file at path.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		st: state{
			Statistics: map[string]int{},
			Settings:   map[string]any{},
		},
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run; the file appears on the first write.
	case err != nil:
		return nil, fmt.Errorf("read memory file: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.st); err != nil {
			return nil, fmt.Errorf("parse memory file %s: %w", path, err)
		}
		if s.st.Statistics == nil {
			s.st.Statistics = map[string]int{}
		}
		if s.st.Settings == nil {
			s.st.Settings = map[string]any{}
		}
	}
	return s, nil
}

// persistLocked writes the state atomically (temp file + rename). Callers
// hold s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// GetSetting returns a setting value and whether it was present.
func (s *Store) GetSetting(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.Settings[key]
	return v, ok
}

// SetSetting stores a setting and persists.
func (s *Store) SetSetting(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Settings[key] = value
	return s.persistLocked()
}

// AddConversation appends one exchange, trimming to the bound.
func (s *Store) AddConversation(user, ai string, tokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Conversations = append(s.st.Conversations, Conversation{
		Timestamp: time.Now().UTC(),
		User:      user,
		AI:        ai,
		Tokens:    tokens,
		Cost:      cost,
	})
	if n := len(s.st.Conversations); n > maxConversations {
		s.st.Conversations = s.st.Conversations[n-maxConversations:]
	}
	return s.persistLocked()
}

// GetRecentConversations returns up to limit most recent exchanges, oldest
// first.
func (s *Store) GetRecentConversations(limit int) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.st.Conversations)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Conversation, limit)
	copy(out, s.st.Conversations[n-limit:])
	return out
}

// IncrementStat bumps a counter by delta and persists.
func (s *Store) IncrementStat(name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Statistics[name] += delta
	return s.persistLocked()
}

// GetStatistics returns a copy of all counters.
func (s *Store) GetStatistics() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.st.Statistics))
	for k, v := range s.st.Statistics {
		out[k] = v
	}
	return out
}

// ClearConversations drops all stored exchanges.
func (s *Store) ClearConversations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Conversations = nil
	return s.persistLocked()
}

// ResetStatistics zeroes all counters.
func (s *Store) ResetStatistics() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Statistics = map[string]int{}
	return s.persistLocked()
}
