package config

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/vtuber-plan/olah/contrib/log"
)

// Observer is notified with the newly merged Bootstrap after a reload.
type Observer func(*Bootstrap)

// Watcher holds the active Bootstrap and reloads it on SIGHUP or a write
// to its backing file, grounded on the teacher's contrib/config tick()
// loop (SIGHUP-driven rescan-and-notify), extended with an fsnotify
// watcher on the config path so an editor save also triggers a reload.
type Watcher struct {
	path string

	mu        sync.RWMutex
	current   *Bootstrap
	observers []Observer

	stop chan struct{}
}

// Watch loads path, merges it onto Default, and starts watching for
// SIGHUP/file-write reloads. Call Close to stop.
func Watch(path string) (*Watcher, error) {
	bc, err := LoadMerged(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, current: bc, stop: make(chan struct{})}
	go w.loop()
	return w, nil
}

// Current returns the active Bootstrap.
func (w *Watcher) Current() *Bootstrap {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers obs to run after every successful reload.
func (w *Watcher) OnReload(obs Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, obs)
}

// Close stops the reload loop.
func (w *Watcher) Close() {
	close(w.stop)
}

func (w *Watcher) loop() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	defer signal.Stop(sigc)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("config: fsnotify unavailable, SIGHUP-only reload: %v", err)
		w.waitSignalOnly(sigc)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		log.Errorf("config: watch %s: %v", filepath.Dir(w.path), err)
	}

	for {
		select {
		case <-w.stop:
			return
		case <-sigc:
			w.reload()
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.path) && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) waitSignalOnly(sigc <-chan os.Signal) {
	for {
		select {
		case <-w.stop:
			return
		case <-sigc:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	raw, err := Load(w.path)
	if err != nil {
		log.Errorf("config: reload %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	merged, err := Merge(w.current, raw)
	if err != nil {
		w.mu.Unlock()
		log.Errorf("config: reload merge %s: %v", w.path, err)
		return
	}
	w.current = merged
	observers := append([]Observer(nil), w.observers...)
	w.mu.Unlock()

	log.Infof("config: reloaded %s", w.path)
	for _, o := range observers {
		o(merged)
	}
}
