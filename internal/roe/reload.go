package roe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the RoE file and hot-reloads it into a Holder. A reload
// that fails to parse leaves the previous snapshot in place: a broken edit
// must not widen or silently clear the scope.
type Reloader struct {
	watcher  *fsnotify.Watcher
	holder   *Holder
	path     string
	onReload func(snap *Snapshot, err error)
}

// NewReloader creates a file watcher for the RoE document. onReload is
// called after every reload attempt (nil error on success); callers use it
// to broadcast the scope-update signal.
func NewReloader(holder *Holder, path string, onReload func(*Snapshot, error)) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("roe: create file watcher: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("roe: watch %q: %w", path, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("roe: watch %q: %w", path, err)
	}

	if onReload == nil {
		onReload = func(*Snapshot, error) {}
	}

	return &Reloader{
		watcher:  watcher,
		holder:   holder,
		path:     path,
		onReload: onReload,
	}, nil
}

// Run watches for file changes and reloads the document. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "roe watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	snap, err := Load(r.path)
	if err != nil {
		r.onReload(nil, err)
		return
	}
	r.holder.Replace(snap)
	r.onReload(snap, nil)
}
