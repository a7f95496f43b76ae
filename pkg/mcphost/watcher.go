package mcphost

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// WatchConfig reloads the host's configuration whenever the document
// changes on disk, debouncing editor write bursts. The parent directory is
// watched rather than the file itself so atomic save-and-rename updates are
// seen too. WatchConfig blocks until ctx is cancelled.
func (h *Host) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(h.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(h.configPath)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		case <-fire:
			timer = nil
			fire = nil
			h.logger.Info("config file changed, reloading", zap.String("path", h.configPath))
			h.ReloadConfig(ctx, "")
		}
	}
}
