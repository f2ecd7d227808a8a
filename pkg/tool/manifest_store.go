package tool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ManifestStore persists the durable metadata of registered tools. Handlers
// are never written; they come back by re-registration at startup.
type ManifestStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

type manifestFile struct {
	Tools   []Metadata `json:"tools"`
	Version string     `json:"version"`
	SavedAt int64      `json:"savedAt"`
}

// NewManifestStore creates a store writing to path
func NewManifestStore(path string, logger zerolog.Logger) *ManifestStore {
	return &ManifestStore{
		path:   path,
		logger: logger.With().Str("component", "tool-manifest").Logger(),
	}
}

// Load returns the metadata saved by a previous run, or nil if none exists
func (s *ManifestStore) Load() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tool manifest: %w", err)
	}

	var file manifestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tool manifest: %w", err)
	}
	return file.Tools, nil
}

// Save atomically replaces the stored metadata
func (s *ManifestStore) Save(tools []Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(tools)
}

// sync writes the registry's current state. Listing under the store lock
// keeps a slower concurrent save from overwriting a newer snapshot.
func (s *ManifestStore) sync(registry *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(registry.List())
}

func (s *ManifestStore) saveLocked(tools []Metadata) error {
	data, err := json.MarshalIndent(manifestFile{
		Tools:   tools,
		Version: "1.0",
		SavedAt: time.Now().Unix(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tool manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("count", len(tools)).Msg("Saved tool manifest")
	return nil
}

// Attach saves on every registry change and returns the names recorded by a
// previous run that are not registered now.
func (s *ManifestStore) Attach(registry *Registry) []string {
	previous, err := s.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring unreadable tool manifest")
	}

	var missing []string
	for _, meta := range previous {
		if !registry.Has(meta.Name) {
			missing = append(missing, meta.Name)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn().Strs("tools", missing).Msg("Tools from previous run were not re-registered")
	}

	registry.OnChange(func([]Metadata) {
		if err := s.sync(registry); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save tool manifest")
		}
	})
	if err := s.sync(registry); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save tool manifest")
	}

	return missing
}
