// Package artifact manages the directory of generated audio files that the
// file server exposes to the speaker.
//
// Generated files are named after a random UUID. They are deleted by an
// expiry timer once playback has had time to start, so the dispatcher never
// sleeps on cleanup. Notification sounds live in the same directory but are
// never generated, swept, or expired.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FilesystemError reports a failed write or delete inside the store.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Store owns the artifact directory.
type Store struct {
	dir string

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// New creates the directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{
		dir:     dir,
		pending: make(map[string]*time.Timer),
	}, nil
}

// NewID returns a fresh artifact identifier.
func NewID() string {
	return uuid.NewString()
}

// IsGenerated reports whether name looks like a file this store created.
func IsGenerated(name string) bool {
	ext := filepath.Ext(name)
	if ext != ".wav" && ext != ".mp3" {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(filepath.Base(name), ext))
	return err == nil
}

// Dir returns the directory the store manages.
func (s *Store) Dir() string { return s.dir }

// Path returns the on-disk path for a bare file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Exists reports whether the named file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Write stores data under name. A partially written file is removed.
func (s *Store) Write(name string, data []byte) error {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = os.Remove(path)
		return &FilesystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Remove deletes the named file. A file that is already gone is not an error.
func (s *Store) Remove(name string) error {
	path := s.Path(name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("artifact already removed", "path", path)
			return nil
		}
		return &FilesystemError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Expire schedules name for deletion after the given delay. Scheduling the
// same name again replaces the earlier deadline. After Close the file is
// removed immediately.
func (s *Store) Expire(name string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.removeLogged(name)
		return
	}
	if t, ok := s.pending[name]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.pending[name] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, name)
		s.mu.Unlock()

		s.removeLogged(name)
	})
	s.pending[name] = timer
	slog.Debug("artifact expiry scheduled", "file", name, "after", after)
}

// Pending returns the number of scheduled deletions.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sweep deletes generated files left behind by a previous run.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, &FilesystemError{Op: "readdir", Path: s.dir, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsGenerated(entry.Name()) {
			continue
		}
		if _, scheduled := s.pending[entry.Name()]; scheduled {
			continue
		}
		if err := s.Remove(entry.Name()); err != nil {
			slog.Warn("sweep failed to remove artifact", "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Close cancels all timers and deletes their files right away.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	names := make([]string, 0, len(s.pending))
	for name, t := range s.pending {
		t.Stop()
		names = append(names, name)
	}
	s.pending = make(map[string]*time.Timer)
	s.mu.Unlock()

	for _, name := range names {
		s.removeLogged(name)
	}
	return nil
}

func (s *Store) removeLogged(name string) {
	if err := s.Remove(name); err != nil {
		slog.Warn("failed to remove artifact", "error", err)
		return
	}
	slog.Debug("artifact removed", "file", name)
}
