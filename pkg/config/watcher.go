package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// each successfully validated config to the registered callbacks.
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewWatcher loads path and prepares to watch it. The parent directory is
// watched so that editors replacing the file by rename are noticed.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:    abs,
		cfg:     cfg,
		watcher: fw,
		logger:  logger,
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start watches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	debounce := time.NewTimer(0)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounce.C:
			if _, err := w.Reload(); err != nil {
				w.logger.Error("Failed to reload config, keeping previous", "error", err)
			}
		}
	}
}

// Reload re-reads the file now. On failure the previous config stays in
// effect and no callback runs.
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.cfg = cfg
	callbacks := append([]func(*Config){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("Config reloaded", "path", w.path, "clients", len(cfg.Rules))
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
