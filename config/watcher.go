package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/perchtools/perch/pkg/paths"
	"github.com/sirupsen/logrus"
)

// Watcher watches the config directory and reloads the file on change.
// Reloads are debounced because editors tend to fire several writes per save.
type Watcher struct {
	watcher    *fsnotify.Watcher
	debounce   time.Duration
	lastChange time.Time
	mu         sync.Mutex
	logger     *logrus.Entry
	onReload   func(*Config)
}

// NewWatcher creates a Watcher over the perch config directory. The onReload
// callback receives the freshly parsed config after each change.
func NewWatcher(logger *logrus.Entry, debounce time.Duration, onReload func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(paths.ConfigDir()); err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		watcher:  watcher,
		debounce: debounce,
		logger:   logger,
		onReload: onReload,
	}, nil
}

// Start blocks until the context is cancelled, dispatching reloads.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, "perch.") {
				continue
			}
			w.handleChange(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

func (w *Watcher) handleChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastChange) < w.debounce {
		return
	}
	w.lastChange = time.Now()

	cfg, err := Load(path)
	if err != nil {
		w.logger.WithError(err).Warnf("Config changed but failed to parse: %s", filepath.Base(path))
		return
	}
	w.logger.Infof("Config reloaded: %s", filepath.Base(path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
