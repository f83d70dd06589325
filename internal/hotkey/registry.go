package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSettle is how long Rebind waits between tearing the old bindings
// down and installing the new set. Some systems deliver the unregister
// asynchronously; registering the same chord again too early fails.
const DefaultSettle = 50 * time.Millisecond

// PartialResult reports the outcome of a RegisterAll per binding. Bound
// holds the IDs that registered; Failed maps the rest to their errors.
type PartialResult struct {
	Bound  []string
	Failed map[string]error
}

// Err folds the failures into one error, nil when everything bound.
func (r PartialResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type boundEntry struct {
	binding Binding
	handle  Handle
	done    chan struct{}
}

// Registry owns the currently bound hotkeys and pumps their fire events
// to the handler. A fresh registry is Unbound; RegisterAll moves it to
// Bound, UnregisterAll back.
type Registry struct {
	backend Backend
	handler func(Binding)
	logger  *slog.Logger
	settle  time.Duration

	// rebindMu serializes Rebind so two concurrent rebinds can never
	// interleave old and new registrations.
	rebindMu sync.Mutex

	mu    sync.Mutex
	bound map[string]*boundEntry
}

// NewRegistry builds a registry over backend. handler runs once per fire,
// on its own goroutine, never on the OS event callback.
func NewRegistry(backend Backend, handler func(Binding), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		handler: handler,
		logger:  logger.With("component", "hotkey"),
		settle:  DefaultSettle,
		bound:   make(map[string]*boundEntry),
	}
}

// SetSettle overrides the rebind settle delay. Tests drop it to zero.
func (r *Registry) SetSettle(d time.Duration) { r.settle = d }

// Bound returns the IDs currently registered, unordered.
func (r *Registry) Bound() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bound))
	for id := range r.bound {
		ids = append(ids, id)
	}
	return ids
}

// RegisterAll installs every binding it can and reports the rest. A
// binding that fails validation or collides with an already bound ID or
// chord is skipped; the valid ones still go in. Bindings register in ID
// order so a chord collision always fails the same binding.
func (r *Registry) RegisterAll(bindings []Binding) PartialResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings = append([]Binding(nil), bindings...)
	SortBindings(bindings)

	result := PartialResult{Failed: make(map[string]error)}
	chords := make(map[string]string, len(r.bound))
	for id, e := range r.bound {
		chords[e.binding.Chord()] = id
	}

	for _, b := range bindings {
		if err := b.validate(); err != nil {
			result.Failed[b.ID] = err
			r.logger.Warn("rejecting hotkey", "id", b.ID, "error", err)
			continue
		}
		if _, taken := r.bound[b.ID]; taken {
			result.Failed[b.ID] = fmt.Errorf("%w: id %q", ErrDuplicateBinding, b.ID)
			continue
		}
		if owner, taken := chords[b.Chord()]; taken {
			result.Failed[b.ID] = fmt.Errorf("%w: chord %q already bound to %q", ErrDuplicateBinding, b.Chord(), owner)
			continue
		}

		handle, err := r.backend.Register(b)
		if err != nil {
			result.Failed[b.ID] = fmt.Errorf("register %q (%s): %w", b.ID, b.Chord(), err)
			r.logger.Error("hotkey registration failed", "id", b.ID, "chord", b.Chord(), "error", err)
			continue
		}

		entry := &boundEntry{binding: b, handle: handle, done: make(chan struct{})}
		r.bound[b.ID] = entry
		chords[b.Chord()] = b.ID
		go r.pump(entry)
		result.Bound = append(result.Bound, b.ID)
		r.logger.Info("hotkey bound", "id", b.ID, "chord", b.Chord(), "action", b.Action)
	}
	return result
}

// UnregisterAll tears every binding down, best effort. Close failures are
// collected but do not stop the rest.
func (r *Registry) UnregisterAll() error {
	r.mu.Lock()
	entries := make([]*boundEntry, 0, len(r.bound))
	for _, e := range r.bound {
		entries = append(entries, e)
	}
	r.bound = make(map[string]*boundEntry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		close(e.done)
		if err := e.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unregister %q: %w", e.binding.ID, err))
		}
	}
	if len(entries) > 0 {
		r.logger.Info("hotkeys unbound", "count", len(entries))
	}
	return errors.Join(errs...)
}

// Rebind atomically swaps the bound set: unregister everything, wait for
// the system to settle, then register the new set. Serialized, so a rebind
// triggered mid-rebind waits its turn.
func (r *Registry) Rebind(bindings []Binding) PartialResult {
	r.rebindMu.Lock()
	defer r.rebindMu.Unlock()

	if err := r.UnregisterAll(); err != nil {
		r.logger.Warn("unregister during rebind", "error", err)
	}
	if r.settle > 0 {
		time.Sleep(r.settle)
	}
	return r.RegisterAll(bindings)
}

// pump forwards fires for one binding until it is unregistered.
func (r *Registry) pump(e *boundEntry) {
	for {
		select {
		case <-e.done:
			return
		case _, ok := <-e.handle.Fired():
			if !ok {
				return
			}
			r.logger.Debug("hotkey fired", "id", e.binding.ID, "action", e.binding.Action)
			if r.handler != nil {
				go r.handler(e.binding)
			}
		}
	}
}
