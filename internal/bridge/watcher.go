package bridge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers passes when a snapshot file is written or replaced.
//
// fsnotify watches the containing directories rather than the files: the
// FindMy app replaces its cache files, which would drop a file watch.
type Watcher struct {
	files   map[string]struct{}
	dirs    []string
	onWrite func(path string)
	logger  Logger
}

// NewWatcher creates a watcher for the given snapshot paths.
// onWrite is called with the cleaned path of the changed file.
func NewWatcher(paths []string, onWrite func(path string)) *Watcher {
	w := &Watcher{
		files:   make(map[string]struct{}, len(paths)),
		onWrite: onWrite,
		logger:  noopLogger{},
	}
	seenDir := make(map[string]struct{})
	for _, p := range paths {
		clean := filepath.Clean(p)
		w.files[clean] = struct{}{}
		dir := filepath.Dir(clean)
		if _, ok := seenDir[dir]; !ok {
			seenDir[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
	}
	return w
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	w.logger = logger
}

// Run watches until ctx is cancelled.
//
// Returns:
//   - error: ErrWatchFailed if the watcher cannot be set up; nil on cancellation
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchFailed, err)
	}
	defer fw.Close() //nolint:errcheck // shutdown path

	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWatchFailed, dir, err)
		}
	}
	w.logger.Info("watching snapshot files", "dirs", w.dirs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watcher error", "error", err)
		}
	}
}

// handle triggers a pass for writes to, or creation of, a watched file.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	path := filepath.Clean(ev.Name)
	if _, ok := w.files[path]; !ok {
		return
	}
	w.logger.Debug("snapshot changed", "path", path, "op", ev.Op.String())
	w.onWrite(path)
}
