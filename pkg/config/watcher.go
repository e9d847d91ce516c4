package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watcher reloads the configuration file when it changes on disk
type Watcher struct {
	loader   *Loader
	onReload func(*EdnaConfig)
	settle   time.Duration
	log      logr.Logger
}

// NewWatcher creates a watcher for the loader's config file. onReload receives
// every configuration that loads and validates.
func NewWatcher(loader *Loader, onReload func(*EdnaConfig), log logr.Logger) *Watcher {
	return &Watcher{
		loader:   loader,
		onReload: onReload,
		settle:   100 * time.Millisecond,
		log:      log.WithName("config-watcher"),
	}
}

// Start blocks until ctx is cancelled. The parent directory is watched so
// files replaced by rename (editors, ConfigMap symlink swaps) are seen.
func (w *Watcher) Start(ctx context.Context) error {
	if w.loader.ConfigFile == "" {
		<-ctx.Done()
		return nil
	}
	path, err := filepath.Abs(w.loader.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.log.Info("Started config watcher", "file", path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.log.Info("Config file changed, reloading", "op", event.Op.String())
			if err := w.reload(); err != nil {
				w.log.Error(err, "Failed to reload config, keeping previous")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "Config watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) reload() error {
	time.Sleep(w.settle)

	cfg, err := w.loader.Load()
	if err != nil {
		return err
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
	return nil
}
