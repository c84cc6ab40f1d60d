// Package watcher reloads files when they change on disk.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceInterval = 500 * time.Millisecond

// ChangeCallback is called once a watched file has settled after a change.
type ChangeCallback func(path string)

// Watcher monitors individual files. It watches each file's directory so that
// editors which save by rename are still seen.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*fileWatcher // cleaned path → watcher
	callback ChangeCallback
	log      zerolog.Logger
	debounce time.Duration
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// New creates a new file watcher.
func New(callback ChangeCallback, log zerolog.Logger) *Watcher {
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		callback: callback,
		log:      log,
		debounce: debounceInterval,
	}
}

// Watch starts watching path. Watching a path twice is a no-op.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchers[path]; ok {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(path)); err != nil {
		fsW.Close()
		return err
	}

	fw := &fileWatcher{
		path:      path,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	w.watchers[path] = fw

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	path = filepath.Clean(path)

	w.mu.Lock()
	fw, ok := w.watchers[path]
	if ok {
		delete(w.watchers, path)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
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
				w.log.Info().Str("path", fw.path).Msg("file changed")
				if w.callback != nil {
					w.callback(fw.path)
				}
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Str("path", fw.path).Msg("watcher error")
		}
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchers))
	for p := range w.watchers {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
