// Package watcher reports changes to individual files, such as the server
// configuration, with debouncing.
package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeFunc is called with the watched path once edits to it settle.
type ChangeFunc func(path string)

// Watcher monitors files for changes.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*fileWatcher // path → watcher
	debounce time.Duration
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	onChange  ChangeFunc
}

// New creates a watcher that waits debounce after the last event before
// reporting a change. Zero selects the default of 500ms.
func New(debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounce,
	}
}

// Watch starts watching path. The parent directory is watched so that files
// replaced by rename, as most editors save them, keep being tracked.
func (w *Watcher) Watch(path string, onChange ChangeFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		onChange:  onChange,
	}

	w.mu.Lock()
	old := w.watchers[abs]
	w.watchers[abs] = fw
	w.mu.Unlock()
	if old != nil {
		old.stop()
	}

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		fw.stop()
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	all := make([]*fileWatcher, 0, len(w.watchers))
	for _, fw := range w.watchers {
		all = append(all, fw)
	}
	w.watchers = make(map[string]*fileWatcher)
	w.mu.Unlock()

	for _, fw := range all {
		fw.stop()
	}
}

func (fw *fileWatcher) stop() {
	close(fw.cancel)
	fw.fsWatcher.Close()
}

// watchLoop processes fsnotify events for the watched file with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case <-fw.cancel:
				default:
					fw.onChange(fw.path)
				}
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error for %s: %v", fw.path, err)
		}
	}
}
