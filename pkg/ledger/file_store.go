package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore appends records as JSON lines. The last line for a tool wins on
// load; Compact rewrites the file with one line per tool.
type FileStore struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	rename func(oldpath, newpath string) error
	logger zerolog.Logger
}

// NewFileStore opens (creating if needed) the ledger file at path
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	return &FileStore{
		path:   path,
		file:   file,
		rename: os.Rename,
		logger: logger.With().Str("component", "ledger-file").Logger(),
	}, nil
}

// Load reads every line and keeps the latest record per tool. Lines that do
// not decode are skipped.
func (s *FileStore) Load() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer file.Close()

	records := make(map[string]Record)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.Tool == "" {
			s.logger.Warn().Int("line", line).Msg("Skipping malformed ledger line")
			continue
		}
		records[rec.Tool] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	return records, nil
}

// Append writes records as one batch
func (s *FileStore) Append(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("ledger file closed")
	}

	w := bufio.NewWriter(s.file)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode ledger record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	return nil
}

// Compact replaces the file with the given records, one line each
func (s *FileStore) Compact(records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	tempPath := s.path + ".tmp"
	temp, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	w := bufio.NewWriter(temp)
	enc := json.NewEncoder(w)
	for _, name := range names {
		if err := enc.Encode(records[name]); err != nil {
			temp.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to encode ledger record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := s.rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		if reopenErr := s.reopen(); reopenErr != nil {
			return fmt.Errorf("failed to rename temporary file: %w (%v)", err, reopenErr)
		}
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return s.reopen()
}

func (s *FileStore) reopen() error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen ledger file: %w", err)
	}
	s.file = file
	return nil
}

// Close closes the underlying file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
