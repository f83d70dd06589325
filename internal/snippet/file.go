package snippet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// fileDoc is the TOML shape of the snippets file:
//
//	[[snippet]]
//	trigger = ";sig"
//	content = "Best regards,\nJ."
type fileDoc struct {
	Snippet []Snippet `toml:"snippet"`
}

// LoadFile reads a TOML snippets file.
func LoadFile(path string) ([]Snippet, error) {
	var doc fileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("load snippets file: %w", err)
	}
	return doc.Snippet, nil
}

// SaveFile writes the registry's snippet set as a TOML snippets file.
func SaveFile(path string, r *Registry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	doc := fileDoc{Snippet: r.Snapshot()}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode snippets file: %w", err)
	}
	return nil
}

// Watcher hot-reloads a snippets file into a registry whenever the external
// settings editor writes it. Reloads are debounced: editors often produce
// several writes for one save.
type Watcher struct {
	path     string
	registry *Registry
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}

	// OnReload, when set, runs after each successful reload.
	OnReload func(count int)
}

// NewWatcher creates a snippets-file watcher.
func NewWatcher(path string, registry *Registry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		registry: registry,
		logger:   logger.With("component", "snippet_watcher"),
	}
}

// Start loads the file once and begins watching its directory.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.reload(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch snippets dir: %w", err)
	}
	w.fsWatcher = fsw

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)

	w.logger.Info("watching snippets file", "path", w.path)
	return nil
}

// Stop stops watching. Idempotent.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
	w.fsWatcher.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := w.reload(); err != nil {
					w.logger.Error("snippets reload failed", "error", err)
				}
			})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("snippets watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() error {
	snippets, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	if err := w.registry.Replace(snippets); err != nil {
		w.logger.Warn("some snippets rejected", "error", err)
	}
	w.logger.Info("snippets loaded", "count", w.registry.Len())
	if w.OnReload != nil {
		w.OnReload(w.registry.Len())
	}
	return nil
}
