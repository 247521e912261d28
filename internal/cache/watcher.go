package cache

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/grepbox/internal/logger"
)

// Watcher invalidates cache entries as filesystem events arrive, so space is
// reclaimed eagerly after external writes instead of waiting for the next
// staleness check.
type Watcher struct {
	fsw  *fsnotify.Watcher
	mgr  *Manager
	stop chan struct{}
	log  *logger.Logger
}

// NewWatcher watches the tree under root recursively.
func NewWatcher(mgr *Manager, root string, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Global()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:  fsw,
		mgr:  mgr,
		stop: make(chan struct{}),
		log:  log.WithComponent("watcher"),
	}

	// fsnotify watches are per-directory; add every directory in the tree.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.log.Warn("failed to watch %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// New directories must be added for their own events.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.log.Warn("failed to watch new directory %s: %v", event.Name, err)
			}
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.log.Debug("invalidating %s after %s", event.Name, event.Op)
		w.mgr.InvalidatePath(event.Name)
	}
}

// Close stops the event loop and the underlying watcher.
func (w *Watcher) Close() {
	close(w.stop)
	_ = w.fsw.Close()
}
