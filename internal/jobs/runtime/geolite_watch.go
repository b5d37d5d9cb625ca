package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 2 * time.Second

// WatchGeoLiteArchive reloads from path whenever the file is written or
// replaced. Bursts of events within watchDebounce trigger one reload.
func WatchGeoLiteArchive(ctx context.Context, path string, req UpdateRequest, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("runtime: archive watcher: %w", err)
	}

	// Watch the directory so atomic renames onto path are seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("runtime: watch %s: %w", dir, err)
	}

	req.Source = path
	req.Reason = "archive changed"
	go runArchiveWatcher(ctx, watcher, filepath.Clean(path), func(ctx context.Context) {
		_ = triggerGeoLiteUpdate(ctx, req, onReload, true)
	})

	log.Info("Watching GeoLite archive", "path", path)
	return nil
}

func runArchiveWatcher(ctx context.Context, watcher *fsnotify.Watcher, path string, reload func(context.Context)) {
	defer watcher.Close()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			log.Debug("GeoLite archive event", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("GeoLite archive watcher error", "error", err)
		case <-pending:
			pending = nil
			reload(ctx)
		}
	}
}
