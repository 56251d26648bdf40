package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever path changes, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are still picked up. A file that fails to parse leaves the current table
// in place.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
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
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := c.LoadFile(abs); err != nil {
					c.logger.Warn("catalog reload failed", "path", abs, "error", err)
					continue
				}
				c.logger.Info("catalog reloaded", "path", abs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("catalog watcher error", "error", err)
			}
		}
	}()
	return nil
}
