// Package checkpoint tracks which identifiers a run has already attempted.
//
// The log is a newline-delimited identifier list, append-only and
// monotonically growing: an entry means "attempted", not "succeeded", so a
// poison identifier can never block forward progress. The file is read in
// full at startup and each mark is synced to disk immediately, so a killed
// run loses at most its in-flight items.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store is the durable attempted-identifier set. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	file *os.File
	seen map[string]struct{}
	path string
}

// Open loads the checkpoint file at path, creating it if needed.
func Open(path string) (*Store, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	return &Store{file: file, seen: seen, path: path}, nil
}

// IsDone reports whether id has already been attempted.
func (s *Store) IsDone(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// MarkDone records id as attempted, appending it durably exactly once.
func (s *Store) MarkDone(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return nil
	}
	if _, err := s.file.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append checkpoint entry %s: %w", id, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	s.seen[id] = struct{}{}
	return nil
}

// Len returns the number of recorded identifiers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
