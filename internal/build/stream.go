package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrStreamConsumed = errors.New("diagnostic stream already read")

const streamPrefix = "scout-audit-"

// Stream is the driver's captured standard output on disk. It is read once
// and removed by Close.
type Stream struct {
	path string

	mu     sync.Mutex
	read   bool
	closed bool
}

func newStream(dir, projectKey string) (*Stream, error) {
	f, err := os.CreateTemp(dir, streamPattern(projectKey))
	if err != nil {
		return nil, fmt.Errorf("create diagnostic stream: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Stream{path: path}, nil
}

func streamPattern(projectKey string) string {
	return streamPrefix + projectKey + "-*.jsonl"
}

func (s *Stream) Path() string { return s.path }

// ReadAll returns the whole stream. A second call fails with
// ErrStreamConsumed.
func (s *Stream) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.read || s.closed {
		return nil, ErrStreamConsumed
	}
	s.read = true
	return os.ReadFile(s.path)
}

// Close deletes the file. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanStale removes streams left in dir by an interrupted run for the same
// project and returns how many were removed.
func CleanStale(dir, projectKey string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, streamPattern(projectKey)))
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
