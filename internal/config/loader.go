package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nimf/internal/reactor"
)

// debounceDelay collapses the burst of events editors produce on save.
const debounceDelay = 100 * time.Millisecond

// Loader loads the configuration file and, run as a reactor source,
// reloads it when the file changes. Change callbacks run on the reactor.
type Loader struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)
}

// NewLoader creates a loader for path. An empty path means ConfigPath().
func NewLoader(path string, logger *slog.Logger) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// Path returns the file being loaded.
func (l *Loader) Path() string { return l.path }

// Load reads, overrides and validates the configuration. Warnings are
// logged; errors fail the load.
func (l *Loader) Load() (*Config, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		verrs, ok := err.(ValidationErrors)
		if !ok || verrs.HasErrors() {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		for _, w := range verrs.Warnings() {
			l.logger.Warn("config warning", "field", w.Field, "message", w.Message)
		}
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback for reloaded configurations. Register
// callbacks before the loader starts running.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Name implements reactor.Source.
func (l *Loader) Name() string { return "config" }

// Run watches the config file's directory until ctx is cancelled. Each
// successful reload is handed to the callbacks on the reactor; failed
// reloads are logged and the previous configuration stays in effect.
func (l *Loader) Run(ctx context.Context, loop *reactor.Loop) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		l.logger.Warn("config directory not watched, hot reload disabled", "dir", dir, "error", err)
		<-ctx.Done()
		return nil
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(debounceDelay)

		case <-debounce:
			debounce = nil
			l.reload(loop)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (l *Loader) reload(loop *reactor.Loop) {
	cfg, err := l.Load()
	if err != nil {
		l.logger.Warn("config reload failed, keeping previous configuration", "path", l.path, "error", err)
		return
	}
	l.logger.Info("config reloaded", "path", l.path)

	l.mu.RLock()
	callbacks := append([]func(*Config){}, l.onChange...)
	l.mu.RUnlock()

	loop.Post(func() {
		for _, cb := range callbacks {
			cb(cfg.Clone())
		}
	})
}
