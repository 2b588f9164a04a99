package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher proactively invalidates the Scanner's per-file cache as source
// files change on disk, so a reload() call is never a no-op waiting on a
// stale scan. Grounded on C360Studio-semspec's use of fsnotify for
// reload invalidation (see go.mod require list).
type Watcher struct {
	scanner *Scanner
	fsw     *fsnotify.Watcher
}

// NewWatcher starts watching root (recursively) for changes relevant to
// test_*.py discovery.
func NewWatcher(scanner *Scanner, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{scanner: scanner, fsw: fsw}
	return w, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("discovery watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".py") {
		return
	}
	rel, err := filepath.Rel(w.scanner.root, ev.Name)
	if err != nil {
		return
	}
	w.scanner.InvalidatePath(rel)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = fsw.Add(path)
		}
		return nil
	})
}
