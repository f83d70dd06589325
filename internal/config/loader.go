package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader handles configuration loading, watching, and hot reload.
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a loader for the config file at path.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		ctx:     ctx,
		cancel:  cancel,
		errChan: make(chan error, 1),
	}
}

// Load reads, validates, and installs the configuration. Environment
// overrides apply here and on every reload, so a reload cannot silently
// drop them.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after every successful reload.
// Register before calling Watch.
func (l *Loader) OnChange(cb func(*Config)) {
	l.onChange = append(l.onChange, cb)
}

// Errors delivers watch and reload errors. Never blocks the watcher.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the config file for changes. Editors replace
// rather than rewrite files, so the parent directory is watched.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

// watchLoop debounces file events and triggers reloads.
func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer
	debounceDelay := 100 * time.Millisecond

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			select {
			case l.errChan <- err:
			default:
			}
		}
	}
}

// reload loads and validates the new file; invalid configs are reported
// and the old one stays live.
func (l *Loader) reload() {
	cfg, err := Load(l.path)
	if err != nil {
		select {
		case l.errChan <- fmt.Errorf("reload config: %w", err):
		default:
		}
		return
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		select {
		case l.errChan <- fmt.Errorf("validate new config: %w", err):
		default:
		}
		return
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()

	for _, cb := range l.onChange {
		cb(cfg)
	}
}

// Reload forces a reload outside the watcher, for the IPC reload op.
func (l *Loader) Reload() error {
	cfg, err := Load(l.path)
	if err != nil {
		return err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()

	for _, cb := range l.onChange {
		cb(cfg)
	}
	return nil
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
