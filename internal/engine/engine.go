// Package engine assembles the daemon: keyboard tap, trigger matcher,
// injection, hotkeys, input lock, feedback, and the persistence and
// control surfaces around them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"expandd/internal/clipboard"
	"expandd/internal/config"
	"expandd/internal/convert"
	"expandd/internal/feedback"
	"expandd/internal/hook"
	"expandd/internal/hotkey"
	"expandd/internal/inject"
	"expandd/internal/ipc"
	"expandd/internal/lock"
	"expandd/internal/logging"
	"expandd/internal/snippet"
	"expandd/internal/store"
	"expandd/internal/trigger"
)

// Enhancer rewrites selected text for the prompt-enhance action.
type Enhancer func(ctx context.Context, text string) (string, error)

// Deps are the replaceable pieces of an engine. Zero values get
// platform defaults; tests substitute fakes.
type Deps struct {
	// Tap builds the keyboard tap over the engine's dispatcher.
	Tap func(*hook.Dispatcher, *slog.Logger) hook.Tap

	// HotkeyBackend registers global chords with the OS.
	HotkeyBackend hotkey.Backend

	// Synth posts synthetic keyboard events.
	Synth inject.Synthesizer

	// Clip is the clipboard used for injection and capture.
	Clip clipboard.Clipboard

	// Notifier delivers user feedback.
	Notifier feedback.Notifier

	// Store persists snippets and expansion history. May be nil.
	Store *store.Store

	// Overlay is shown while input is locked. May be nil.
	Overlay lock.Overlay

	// Enhancer backs the prompt-enhance action. Nil uses the built-in
	// cleanup pass.
	Enhancer Enhancer
}

// Engine wires the daemon together and owns its lifecycle.
type Engine struct {
	logger  *slog.Logger
	version string

	deps     Deps
	registry *snippet.Registry
	matcher  *trigger.Matcher
	locker   *lock.Machine
	hotkeys  *hotkey.Registry
	history  *clipboard.History
	watcher  *snippet.Watcher
	tap      hook.Tap
	notifier feedback.Notifier
	store    *store.Store
	loader   *config.Loader

	mu       sync.Mutex
	cfg      *config.Config
	injector *inject.Engine
	started  time.Time
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds an engine from a validated config. loader may be nil; when
// set, config file changes are applied live and IPC reload goes through
// it.
func New(cfg *config.Config, loader *config.Loader, deps Deps, version string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Default().Logger
	}
	log := logger.With("component", "engine")

	if deps.Clip == nil {
		deps.Clip = clipboard.NewSystem()
	}
	if deps.Synth == nil {
		deps.Synth = inject.NewKeybdSynthesizer()
	}
	if deps.HotkeyBackend == nil {
		deps.HotkeyBackend = hotkey.NewPlatformBackend(logger)
	}
	if deps.Notifier == nil {
		if cfg.Feedback.Notifications || cfg.Feedback.Sound {
			deps.Notifier = feedback.NewDesktop(cfg.Feedback.Sound, logger)
		} else {
			deps.Notifier = feedback.Silent{}
		}
	}
	if deps.Overlay == nil {
		ov := lock.NewProcOverlay(cfg.Lock.OverlayPath, logger)
		ov.SetArgs("-unlock", cfg.Lock.UnlockChord, "-hold", strconv.Itoa(cfg.Lock.HoldSeconds))
		deps.Overlay = ov
	}

	e := &Engine{
		logger:   log,
		version:  version,
		deps:     deps,
		registry: snippet.NewRegistry(),
		notifier: deps.Notifier,
		store:    deps.Store,
		loader:   loader,
		cfg:      cfg,
	}

	e.history = clipboard.NewHistory(deps.Clip, time.Duration(cfg.Clipboard.PollIntervalMs)*time.Millisecond)
	e.history.SetSuppressTTL(time.Duration(cfg.Clipboard.SuppressTTLMs) * time.Millisecond)

	e.injector = inject.NewEngine(deps.Synth, deps.Clip, e.history, inject.Timings{
		KeyPause: time.Duration(cfg.Injection.KeyPauseMs) * time.Millisecond,
		Settle:   time.Duration(cfg.Injection.SettleMs) * time.Millisecond,
	}, logger)

	dispatcher := hook.NewDispatcher()
	if deps.Tap != nil {
		e.tap = deps.Tap(dispatcher, logger)
	} else {
		e.tap = hook.NewPlatformTap(dispatcher, logger)
	}

	unlockKey, unlockMods, err := hotkey.ParseChord(cfg.Lock.UnlockChord)
	if err != nil {
		return nil, fmt.Errorf("unlock chord: %w", err)
	}
	e.locker = lock.NewMachine(deps.Overlay, lock.Options{
		Unlock:       lock.Combo{KeyCode: unlockKey, Modifiers: unlockMods},
		HoldDuration: cfg.HoldDuration(),
		Permission:   e.tap.CanSuppress,
		OnChange:     e.lockChanged,
	}, logger)

	e.matcher = trigger.NewMatcher(e.registry, cfg.Snippets.BufferCapacity, logger)

	// While locked the lock machine consumes everything, so it must see
	// events before the matcher does.
	dispatcher.Subscribe(e.locker)
	dispatcher.Subscribe(e.matcher)

	e.hotkeys = hotkey.NewRegistry(deps.HotkeyBackend, e.handleHotkey, logger)
	e.hotkeys.SetSettle(cfg.RebindSettle())

	if err := e.loadSnippets(cfg); err != nil {
		return nil, err
	}

	if loader != nil {
		loader.OnChange(e.applyConfig)
	}

	return e, nil
}

// Start installs the tap, registers hotkeys, and begins processing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	cfg := e.cfg
	e.mu.Unlock()

	if ok, reason := e.tap.Available(); !ok {
		e.notifier.PermissionNeeded(reason)
		return fmt.Errorf("%w: %s", hook.ErrNotAvailable, reason)
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := e.tap.Start(runCtx); err != nil {
		cancel()
		if errors.Is(err, hook.ErrPermissionDenied) {
			e.notifier.PermissionNeeded("keyboard monitoring")
		}
		return fmt.Errorf("starting keyboard tap: %w", err)
	}
	if !e.tap.CanSuppress() {
		e.logger.Warn("tap cannot suppress events; triggers will not be swallowed",
			"tap", e.tap.Name())
	}

	result := e.hotkeys.RegisterAll(cfg.Bindings())
	if err := result.Err(); err != nil {
		e.logger.Warn("some hotkeys failed to register", "error", err,
			"bound", len(result.Bound))
	}

	if cfg.Clipboard.History {
		e.history.Start()
	}

	if cfg.Snippets.Source == "file" && cfg.Snippets.Watch {
		e.watcher = snippet.NewWatcher(cfg.Snippets.Path, e.registry, e.logger)
		if err := e.watcher.Start(runCtx); err != nil {
			e.logger.Warn("snippet file watch failed", "error", err)
			e.watcher = nil
		}
	}

	done := make(chan struct{})
	go e.expansionPump(runCtx, done)

	if e.store != nil && cfg.General.HistoryDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.General.HistoryDays)
		if n, err := e.store.PruneExpansions(cutoff); err != nil {
			e.logger.Warn("history prune failed", "error", err)
		} else if n > 0 {
			e.logger.Debug("pruned expansion history", "removed", n)
		}
	}

	e.mu.Lock()
	e.running = true
	e.started = time.Now()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.logger.Info("engine started",
		"tap", e.tap.Name(),
		"hotkey_backend", e.deps.HotkeyBackend.Name(),
		"snippets", e.registry.Len(),
		"hotkeys", len(result.Bound))
	return nil
}

// Stop tears everything down in reverse order of Start. Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()

	if e.watcher != nil {
		e.watcher.Stop()
		e.watcher = nil
	}
	e.history.Stop()

	var errs []error
	if err := e.hotkeys.UnregisterAll(); err != nil {
		errs = append(errs, err)
	}
	if err := e.tap.Stop(); err != nil {
		errs = append(errs, err)
	}
	e.locker.Unlock()

	<-done
	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// Locker exposes the lock machine for signal handlers.
func (e *Engine) Locker() *lock.Machine { return e.locker }

// Registry exposes the snippet registry.
func (e *Engine) Registry() *snippet.Registry { return e.registry }

// expansionPump drains matcher output and performs injections one at a
// time. Matches arriving while an injection is in flight queue in the
// channel.
func (e *Engine) expansionPump(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case exp := <-e.matcher.Expansions():
			e.performExpansion(ctx, exp)
		}
	}
}

func (e *Engine) performExpansion(ctx context.Context, exp trigger.Expansion) {
	e.mu.Lock()
	injector := e.injector
	e.mu.Unlock()

	if err := injector.Expand(ctx, exp.Trigger, exp.Content); err != nil {
		e.logger.Error("expansion failed", "trigger", exp.Trigger, "error", err)
		e.notifier.Warn("expansion failed")
		return
	}

	e.notifier.Expanded(exp.Trigger)
	if e.store != nil {
		if err := e.store.RecordExpansion(exp.Trigger, len(exp.Content), time.Now()); err != nil {
			e.logger.Warn("recording expansion failed", "error", err)
		}
	}
}

// handleHotkey runs on the hotkey registry's dispatch goroutines.
func (e *Engine) handleHotkey(b hotkey.Binding) {
	if b.Action == hotkey.ActionLockToggle {
		e.locker.Toggle()
		return
	}
	if e.locker.State() == lock.Locked {
		e.logger.Debug("hotkey ignored while locked", "action", b.Action)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.mu.Lock()
	injector := e.injector
	e.mu.Unlock()

	switch b.Action {
	case hotkey.ActionConvert:
		err := injector.Transform(ctx, func(_ context.Context, text string) (string, error) {
			return convert.Layout(text), nil
		})
		if err != nil {
			e.logger.Error("layout conversion failed", "error", err)
		}

	case hotkey.ActionCapture:
		if err := e.captureSelection(ctx); err != nil {
			e.logger.Error("snippet capture failed", "error", err)
			e.notifier.Warn("snippet capture failed")
		}

	case hotkey.ActionPromptEnhance:
		enhance := e.deps.Enhancer
		if enhance == nil {
			enhance = builtinEnhance
		}
		err := injector.Transform(ctx, func(ctx context.Context, text string) (string, error) {
			return enhance(ctx, text)
		})
		if err != nil {
			e.logger.Error("prompt enhance failed", "error", err)
		}

	default:
		e.logger.Warn("unhandled hotkey action", "action", b.Action)
	}
}

// captureSelection copies the current selection and saves it as a new
// snippet under a generated trigger the user renames later.
func (e *Engine) captureSelection(ctx context.Context) error {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	e.history.SuppressNextChange()
	if err := e.deps.Synth.CopyChord(); err != nil {
		return fmt.Errorf("%w: copy", inject.ErrSynthesisFailed)
	}
	settle := time.Duration(cfg.Injection.SettleMs) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}

	text, err := e.deps.Clip.Read()
	if err != nil {
		return fmt.Errorf("reading selection: %w", err)
	}
	if text == "" {
		e.logger.Debug("capture skipped, empty selection")
		return nil
	}
	if len([]rune(text)) > snippet.MaxContentLen {
		return snippet.ErrContentTooLong
	}

	sn := snippet.Snippet{
		ID:      fmt.Sprintf("capture-%d", time.Now().Unix()),
		Trigger: fmt.Sprintf(";cap%d", time.Now().Unix()%100000),
		Content: text,
	}
	if err := e.registry.Add(sn); err != nil {
		return err
	}
	if err := e.persistSnippet(cfg, sn); err != nil {
		return err
	}

	e.logger.Info("selection captured", "trigger", sn.Trigger, "content_len", len(text))
	e.notifier.Expanded(sn.Trigger)
	return nil
}

func (e *Engine) persistSnippet(cfg *config.Config, sn snippet.Snippet) error {
	if cfg.Snippets.Source == "sqlite" && e.store != nil {
		return e.store.UpsertSnippet(sn)
	}
	return snippet.SaveFile(cfg.Snippets.Path, e.registry)
}

// loadSnippets fills the registry from the configured source.
func (e *Engine) loadSnippets(cfg *config.Config) error {
	var (
		snippets []snippet.Snippet
		err      error
	)
	switch cfg.Snippets.Source {
	case "sqlite":
		if e.store == nil {
			return fmt.Errorf("snippet source is sqlite but no store is configured")
		}
		snippets, err = e.store.ListSnippets()
	default:
		snippets, err = snippet.LoadFile(cfg.Snippets.Path)
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			e.logger.Info("snippet file missing, starting empty", "path", cfg.Snippets.Path)
			snippets, err = nil, nil
		}
	}
	if err != nil {
		return fmt.Errorf("loading snippets: %w", err)
	}
	if err := e.registry.Replace(snippets); err != nil {
		return fmt.Errorf("installing snippets: %w", err)
	}
	return nil
}

// applyConfig is invoked by the config loader after a validated reload.
func (e *Engine) applyConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.injector = inject.NewEngine(e.deps.Synth, e.deps.Clip, e.history, inject.Timings{
		KeyPause: time.Duration(cfg.Injection.KeyPauseMs) * time.Millisecond,
		Settle:   time.Duration(cfg.Injection.SettleMs) * time.Millisecond,
	}, e.logger)
	running := e.running
	e.mu.Unlock()

	e.history.SetSuppressTTL(time.Duration(cfg.Clipboard.SuppressTTLMs) * time.Millisecond)

	if err := e.loadSnippets(cfg); err != nil {
		e.logger.Error("snippet reload failed, keeping previous set", "error", err)
	}

	if running {
		e.hotkeys.SetSettle(cfg.RebindSettle())
		result := e.hotkeys.Rebind(cfg.Bindings())
		if err := result.Err(); err != nil {
			e.logger.Warn("rebind left some hotkeys unbound",
				"error", err, "bound", len(result.Bound))
		}
	}

	e.logger.Info("configuration applied",
		"snippets", e.registry.Len(), "hotkeys", len(cfg.Bindings()))
}

func (e *Engine) lockChanged(s lock.State) {
	locked := s == lock.Locked
	// The matcher's buffer is stale once keys stop flowing through it.
	if locked {
		e.matcher.Reset()
	}
	e.notifier.LockChanged(locked)
}

// builtinEnhance is the default prompt-enhance pass: trims stray
// whitespace, capitalizes the first letter, and terminates the sentence.
func builtinEnhance(_ context.Context, text string) (string, error) {
	return convert.TidyPrompt(text), nil
}

// Engine implements ipc.Daemon.

// Status implements ipc.Daemon.
func (e *Engine) Status() (*ipc.StatusResponse, error) {
	e.mu.Lock()
	started := e.started
	running := e.running
	e.mu.Unlock()

	var uptime int64
	if running {
		uptime = int64(time.Since(started).Seconds())
	}

	var expansions int64
	if e.store != nil {
		n, err := e.store.CountExpansions()
		if err != nil {
			return nil, err
		}
		expansions = n
	}

	return &ipc.StatusResponse{
		Version:        e.version,
		PID:            os.Getpid(),
		UptimeSeconds:  uptime,
		Locked:         e.locker.State() == lock.Locked,
		SnippetCount:   e.registry.Len(),
		ExpansionCount: expansions,
		HookBackend:    e.tap.Name(),
		HotkeyBackend:  e.deps.HotkeyBackend.Name(),
	}, nil
}

// SetLocked implements ipc.Daemon.
func (e *Engine) SetLocked(locked bool) (bool, error) {
	if locked {
		e.locker.Lock()
		if e.locker.State() != lock.Locked {
			return false, fmt.Errorf("cannot lock: tap cannot suppress input")
		}
	} else {
		e.locker.Unlock()
	}
	return e.locker.State() == lock.Locked, nil
}

// ReloadConfig implements ipc.Daemon.
func (e *Engine) ReloadConfig() (*ipc.ReloadResponse, error) {
	if e.loader != nil {
		if err := e.loader.Reload(); err != nil {
			return nil, err
		}
	} else {
		e.mu.Lock()
		cfg := e.cfg
		e.mu.Unlock()
		e.applyConfig(cfg)
	}

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	return &ipc.ReloadResponse{
		SnippetCount: e.registry.Len(),
		BindingCount: len(cfg.Bindings()),
	}, nil
}

// ListSnippets implements ipc.Daemon.
func (e *Engine) ListSnippets() ([]ipc.SnippetInfo, error) {
	snapshot := e.registry.Snapshot()
	out := make([]ipc.SnippetInfo, 0, len(snapshot))
	for _, sn := range snapshot {
		out = append(out, ipc.SnippetInfo{
			ID:         sn.ID,
			Trigger:    sn.Trigger,
			ContentLen: len([]rune(sn.Content)),
		})
	}
	return out, nil
}
