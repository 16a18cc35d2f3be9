// Package store provides crash-safe persistence of the bot configuration.
//
// The whole configuration lives in a single JSON file. Writes use atomic
// file replacement (write to .tmp, then rename) to prevent corruption from
// partial writes or crashes mid-save. The control plane calls Save after
// every mutation; main calls Load on startup.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cryptobot/internal/config"
)

// Store persists the bot config to one JSON file.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates a store backed by the given file path, creating the parent
// directory if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Save atomically persists the configuration. It writes to a .tmp file
// first, then renames over the target so the file is never left in a
// partial state.
func (s *Store) Save(cfg *config.BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load restores the configuration from disk. Returns the default config
// when no file exists yet (fresh install).
func (s *Store) Load() (*config.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return config.Load(s.path)
}
