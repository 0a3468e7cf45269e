// Package watcher follows external edits to a repository tree.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/repository"
)

// debounce is how long the watcher waits for a burst of events to settle.
const debounce = 200 * time.Millisecond

// EventCallback is called after a watcher-driven change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the repository root and processes file
// change events until ctx is cancelled. Edits made behind the repository's
// back invalidate its cache; once a burst settles the index (when db is not
// nil) is synced and cb is called for every changed document.
//
// New directories created at runtime are automatically added to the watch
// list. Hidden entries and ignored paths are skipped.
func Watch(ctx context.Context, repo *repository.Repository, db index.DocumentIndex, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := repo.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher started", slog.String("root", root))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher stopped")
			return nil

		case <-flushCh:
			flush(ctx, repo, db, pending, logger, cb)
			pending = make(map[string]struct{})

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if hidden(rel) || repo.Ignored(rel) {
				continue
			}

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := repo.FS().Stat(rel); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watching new dir", slog.String("path", rel))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			repo.Invalidate()
			pending[rel] = struct{}{}
			scheduleFlush()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush reports the settled burst. With an index the changes come from a
// sync; without one every touched path is reported as updated or deleted.
func flush(ctx context.Context, repo *repository.Repository, db index.DocumentIndex, pending map[string]struct{}, logger *slog.Logger, cb EventCallback) {
	repo.Invalidate()
	if db != nil {
		changes, err := index.Sync(ctx, db, repo, logger)
		if err != nil {
			logger.Warn("sync failed", slog.String("error", err.Error()))
		}
		for _, c := range changes {
			if cb != nil {
				cb(c.Kind, c.Path)
			}
		}
		return
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		kind := index.ChangeUpdated
		if _, err := repo.FS().Stat(p); err != nil {
			kind = index.ChangeDeleted
		}
		logger.Debug("document changed", slog.String("path", p), slog.String("op", kind))
		if cb != nil {
			cb(kind, p)
		}
	}
}

func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
