package config

import (
	"context"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from path on write and hands the new value to
// the supplied callback. Only the non-secret threshold fields are meant
// to move at runtime; secrets stay env-sourced per Load.
type Watcher struct {
	path string
	mu   sync.Mutex
	cur  Config
}

func NewWatcher(path string, initial Config) *Watcher {
	return &Watcher{path: path, cur: initial}
}

func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

// Start watches path for changes and invokes onReload with the freshly
// loaded Config. Invalid reloads are logged and ignored; the previous
// Config stays in effect.
func (w *Watcher) Start(ctx context.Context, onReload func(Config)) {
	if w.path == "" {
		return
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[config] watcher unavailable, keeping static config: %v", err)
		return
	}
	if err := fw.Add(w.path); err != nil {
		log.Printf("[config] cannot watch %s, keeping static config: %v", w.path, err)
		fw.Close()
		return
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					log.Printf("[config] reload of %s rejected: %v", w.path, err)
					continue
				}
				w.mu.Lock()
				w.cur = cfg
				w.mu.Unlock()
				log.Printf("[config] reloaded %s", w.path)
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watcher error: %v", err)
			}
		}
	}()
}
