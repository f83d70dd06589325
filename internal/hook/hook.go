// Package hook provides the system-wide keyboard event tap.
//
// IMPORTANT: Every physical key event is delivered synchronously to all
// subscribed listeners before the tap returns control to the OS. The OS
// enforces a hard time budget on that callback; a listener that blocks or
// performs I/O on this path will get the whole tap forcibly disabled.
//
// Platform support:
// - macOS: CGEventTap via gohook (requires Accessibility permission)
// - Linux: XRecord/evdev via gohook (requires X session or input group)
// - Windows: SetWindowsHookEx low-level keyboard hook
package hook

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode"
)

// Kind identifies the kind of a keyboard event.
type Kind int

const (
	KindUnknown Kind = iota
	KindDown
	KindUp
	KindModifiersChanged
)

// String returns a human-readable name for the event kind.
func (k Kind) String() string {
	switch k {
	case KindDown:
		return "down"
	case KindUp:
		return "up"
	case KindModifiersChanged:
		return "modifiers_changed"
	default:
		return "unknown"
	}
}

// Modifiers is a bitset of active modifier keys.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt
	ModSuper
)

// Has reports whether all modifiers in m are set.
func (m Modifiers) Has(mod Modifiers) bool { return m&mod == mod }

// KeyEvent is a single normalized keyboard event. It is produced once per
// physical event, never mutated, and is only valid for the duration of the
// synchronous dispatch to listeners.
type KeyEvent struct {
	Kind      Kind
	KeyCode   uint16
	Char      rune // zero when the key yields no character
	Modifiers Modifiers
	Time      time.Time
}

// Printable reports whether the event carries a character the trigger
// buffer should record. Space counts as a literal character.
func (e KeyEvent) Printable() bool {
	if e.Char == 0 {
		return false
	}
	return e.Char == ' ' || unicode.IsPrint(e.Char)
}

// Verdict is a listener's decision about an event.
type Verdict int

const (
	// PassThrough lets the event reach the focused application.
	PassThrough Verdict = iota
	// Consume suppresses the event before it reaches anything downstream.
	Consume
)

// Listener receives key events from the tap.
//
// HandleKey runs inside the OS event callback and must return quickly.
// Reset is called when the tap stops so listeners can clear any state
// reconstructed from the event stream.
type Listener interface {
	Name() string
	HandleKey(KeyEvent) Verdict
	Reset()
}

// Tap is a system-wide keyboard hook with an explicit lifecycle.
type Tap interface {
	// Name identifies the tap implementation for status reporting.
	Name() string

	// Start installs the hook. Starting an already started tap is a no-op.
	Start(ctx context.Context) error

	// Stop removes the hook and notifies listeners via Reset. Idempotent.
	Stop() error

	// Available reports whether the tap can run with current permissions,
	// with a human-readable reason.
	Available() (bool, string)

	// CanSuppress reports whether this tap can actually swallow events.
	// Backends that only observe still deliver events but ignore Consume.
	CanSuppress() bool
}

// Typed errors surfaced by tap implementations. Raw platform codes never
// escape this package.
var (
	ErrPermissionDenied  = errors.New("input monitoring permission not granted")
	ErrHookInstallFailed = errors.New("failed to install keyboard hook")
	ErrNotAvailable      = errors.New("keyboard tap not available on this platform")
)

// Dispatcher fans a single event stream out to an ordered listener list and
// aggregates their verdicts. Listeners are evaluated in subscription order;
// there is no priority arbitration between them, so if two listeners could
// validly claim the same event, whichever was subscribed first decides.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe appends a listener. Order matters: it is also delivery order.
func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Dispatch delivers the event to each listener in order until one
// consumes it. Listeners after the consumer never see the event; a
// consumed key exists for exactly one owner.
func (d *Dispatcher) Dispatch(ev KeyEvent) Verdict {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	for _, l := range listeners {
		if l.HandleKey(ev) == Consume {
			return Consume
		}
	}
	return PassThrough
}

// Reset notifies every listener that the event stream stopped.
func (d *Dispatcher) Reset() {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	for _, l := range listeners {
		l.Reset()
	}
}

// BaseTap provides the running-state bookkeeping shared by tap
// implementations.
type BaseTap struct {
	mu      sync.Mutex
	running bool
}

// SetRunning sets the running state.
func (b *BaseTap) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseTap) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
