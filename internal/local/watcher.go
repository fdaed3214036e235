package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/util"
)

type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes below a Tree's root. The store directory and
// ignored paths never produce events, so writing a snapshot does not
// trigger another one.
type Watcher struct {
	watcher *fsnotify.Watcher
	tree    *Tree
	Events  chan WatchEvent
}

func NewWatcher(tree *Tree) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher: watcher,
		tree:    tree,
		Events:  make(chan WatchEvent, 64),
	}

	// NOTE: fsnotify does not recursively watch subdirectories
	if err = w.addTree(tree.Root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path, true) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

func (w *Watcher) addDir(path string) error {
	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("add-dir: could not add directory to watcher: %w", err)
	}
	logging.Debugf("Added directory to watcher: %s", path)
	return nil
}

func (w *Watcher) excluded(path string, isDir bool) bool {
	if util.IsWithin(path, w.tree.StoreDir) {
		return true
	}
	if path == w.tree.Root {
		return false
	}
	rel, err := filepath.Rel(w.tree.Root, path)
	if err != nil {
		return true
	}
	return w.tree.Ignored(filepath.ToSlash(rel), isDir)
}

func (w *Watcher) Close() {
	if err := w.watcher.Close(); err != nil {
		logging.Errorf("Error closing watcher: %s", err)
	}
}

// Run forwards filesystem events to Events until ctx is done. Newly created
// directories are watched as they appear. Events is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if !util.IsWithin(event.Name, w.tree.Root) || event.Name == w.tree.Root {
				continue
			}

			isDir := false
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				isDir = true
			}
			if w.excluded(event.Name, isDir) {
				continue
			}

			if isDir && event.Has(fsnotify.Create) {
				if err := w.addTree(event.Name); err != nil {
					return fmt.Errorf("add-dir: could not add directory to watcher: %w", err)
				}
			}

			select {
			case w.Events <- WatchEvent{Path: event.Name, Op: event.Op}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logging.Errorf("FSNotify Error: %v", err)
		}
	}
}
