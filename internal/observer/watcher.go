// Package observer watches the configuration file and reports changes so the
// daemon can hot-reload without a restart.
package observer

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is invoked after the config file settles following a change
type ChangeCallback func(path string)

// ConfigWatcher monitors one configuration file. Editors typically write via
// rename-and-replace, so the watch covers the parent directory and events
// are debounced.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback ChangeCallback
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewConfigWatcher creates a watcher for the given config file
func NewConfigWatcher(path string, callback ChangeCallback) (*ConfigWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &ConfigWatcher{
		watcher:  fw,
		path:     abs,
		callback: callback,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching. Returns once the watch is established; events are
// handled on a background goroutine until Stop or context cancellation.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleCallback()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[observer] watch error: %v", err)
		}
	}
}

// scheduleCallback coalesces a burst of events into one callback
func (w *ConfigWatcher) scheduleCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.callback(w.path)
	})
}

// Stop ends the watch and releases resources
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
