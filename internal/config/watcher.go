package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reloads the config file on change, debounced, and hands the
// result to a handler.
type Watcher struct {
	watcher       *fsnotify.Watcher
	path          string
	handler       func(*Config)
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	stopChan      chan struct{}
}

// Watch watches a config file and calls handler with each successfully
// reloaded configuration.
func Watch(path string, handler func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		path:     path,
		handler:  handler,
		stopChan: make(chan struct{}),
	}

	// Watch the directory; editors replace files on save
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.watchLoop()
	log.Info().Str("path", path).Msg("watching config file")
	return w, nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.debounceMu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.debounceTimer = time.AfterFunc(debounceDelay, w.reload)
			w.debounceMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}
	log.Info().Str("path", w.path).Msg("config reloaded")
	w.handler(cfg)
}
