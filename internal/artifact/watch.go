package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports the presence of each named file and then follows changes
// to the directory until ctx is cancelled. onChange is called from the
// watching goroutine only.
func (s *Store) Watch(ctx context.Context, names []string, onChange func(name string, present bool)) error {
	watched := make(map[string]bool, len(names))
	for _, n := range names {
		watched[n] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", s.dir, err)
	}

	// Initial state is read after the watch is in place so no change is missed.
	for _, n := range names {
		onChange(n, s.Exists(n))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !watched[name] {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				onChange(name, true)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				_, err := os.Stat(ev.Name)
				onChange(name, err == nil)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
