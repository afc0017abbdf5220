package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/smartrag/smartrag/pkg/logger"
)

// Watcher re-reads the config file on change and swaps the current
// snapshot atomically. Consumers call Current per request, so retrieval
// and retry tunables pick up edits without a restart.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Config
}

func NewWatcher(path string, initial *Config) *Watcher {
	return &Watcher{path: path, current: initial}
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches the config file until ctx is cancelled. A parse or
// validation failure keeps the previous snapshot.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(w.path); err != nil {
		fsWatcher.Close()
		return err
	}

	log := logger.GetLogger()

	go func() {
		defer fsWatcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					log.Warn("config reload failed, keeping previous", "error", err)
					continue
				}
				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()
				log.Info("config reloaded", "path", w.path)
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
