package skills

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the loader's cache whenever a skill file changes,
// so edits to SKILL.md take effect without a restart. Runs until ctx is
// cancelled. Missing scan paths are skipped silently (they may be
// created later; a restart then picks them up).
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := 0
	for _, base := range l.scanPaths {
		if _, err := os.Stat(base); err != nil {
			continue
		}
		if err := watcher.Add(base); err != nil {
			slog.Warn("cannot watch skills directory", "path", base, "error", err)
			continue
		}
		watched++
		// Watch each skill's own directory too: edits land on SKILL.md
		// inside it, and fsnotify does not recurse.
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(base + string(os.PathSeparator) + e.Name())
			}
		}
	}
	if watched == 0 {
		watcher.Close()
		slog.Debug("no skills directories to watch")
		return nil
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					slog.Info("skills changed on disk, reloading", "file", event.Name)
					l.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", err)
			}
		}
	}()
	return nil
}
