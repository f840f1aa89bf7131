package alert

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/icpmesh/meshwatch/pkg/log"
)

// WatchOverrides hot-reloads the per-node override file into the engine
// whenever it changes on disk, until ctx is canceled. Editors replace files
// by rename, so the parent directory is watched rather than the file itself.
func WatchOverrides(ctx context.Context, path string, e *Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	log.Info("Watching alert overrides", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			o, err := LoadOverrides(path)
			if err != nil {
				log.Warn("Ignoring invalid alert overrides", "err", err.Error())
				continue
			}
			e.SetOverrides(o)
			log.Info("Alert overrides reloaded", "nodes", len(o))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Override watcher error", "err", err.Error())
		}
	}
}
