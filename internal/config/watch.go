package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports writes, creates, and renames of the given config file on a
// channel until ctx is cancelled. The configuration itself stays read-only
// after startup; callers use the events to tell the operator a restart is
// needed.
func Watch(ctx context.Context, path string) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors commonly replace the file via rename,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-watcher.Events:
				if !open {
					return
				}
				if ev.Name != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- ev.Name:
				default:
				}
			case _, open := <-watcher.Errors:
				if !open {
					return
				}
			}
		}
	}()

	return out, nil
}
