package trigger

import (
	"log/slog"
	"sync"

	"expandd/internal/hook"
	"expandd/internal/snippet"
)

// Expansion is emitted when the buffer's suffix matches a trigger.
type Expansion struct {
	Trigger string
	Content string
}

// Matcher is a hook listener that feeds printable key-downs into the
// rolling buffer and scans the registered trigger set after every append.
//
// Scan order is the registry's snapshot order (longest trigger first, ties
// lexicographic); the first trigger that matches the suffix wins. With
// overlapping triggers the result is order-dependent, and that order is
// the documented contract.
type Matcher struct {
	mu       sync.Mutex
	buf      *Buffer
	registry *snippet.Registry
	logger   *slog.Logger

	expansions chan Expansion
}

// NewMatcher creates a matcher over the given registry.
func NewMatcher(registry *snippet.Registry, capacity int, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		buf:        NewBuffer(capacity),
		registry:   registry,
		logger:     logger.With("component", "matcher"),
		expansions: make(chan Expansion, 16),
	}
}

// Expansions returns the channel of match events. The injection engine
// consumes it asynchronously; the matcher never blocks on it.
func (m *Matcher) Expansions() <-chan Expansion { return m.expansions }

// Name implements hook.Listener.
func (m *Matcher) Name() string { return "matcher" }

// HandleKey implements hook.Listener. Append and scan run atomically with
// respect to Reset; the lock is released before anything downstream runs,
// so injection never executes on the event callback.
func (m *Matcher) HandleKey(ev hook.KeyEvent) hook.Verdict {
	if ev.Kind != hook.KindDown {
		return hook.PassThrough
	}

	// Shortcut chords are not typing.
	if ev.Modifiers.Has(hook.ModControl) || ev.Modifiers.Has(hook.ModAlt) || ev.Modifiers.Has(hook.ModSuper) {
		m.clear()
		return hook.PassThrough
	}

	switch {
	case ev.Printable():
		m.appendAndScan(ev.Char)
	case isBackspace(ev):
		m.mu.Lock()
		m.buf.DropLast()
		m.mu.Unlock()
	default:
		// Navigation, return, escape: the caret moved somewhere we cannot
		// see, so the window no longer reflects what precedes it.
		m.clear()
	}
	return hook.PassThrough
}

// Reset implements hook.Listener; called when the tap stops.
func (m *Matcher) Reset() { m.clear() }

func (m *Matcher) clear() {
	m.mu.Lock()
	m.buf.Clear()
	m.mu.Unlock()
}

func (m *Matcher) appendAndScan(r rune) {
	m.mu.Lock()
	m.buf.Append(r)

	// No trigger can match while the window is shorter than all of them.
	if min := m.registry.MinTriggerRunes(); min == 0 || m.buf.Len() < min {
		m.mu.Unlock()
		return
	}

	var match snippet.Snippet
	found := false
	for _, s := range m.registry.Snapshot() {
		if m.buf.HasSuffix(s.Trigger) {
			match = s
			found = true
			break
		}
	}
	if found {
		m.buf.Clear()
	}
	m.mu.Unlock()

	if !found {
		return
	}

	select {
	case m.expansions <- Expansion{Trigger: match.Trigger, Content: match.Content}:
	default:
		m.logger.Warn("expansion channel full, dropping match", "trigger", match.Trigger)
	}
}

// Buffer exposes the rolling window for tests and diagnostics.
func (m *Matcher) Buffer() *Buffer { return m.buf }

// isBackspace matches the backspace key across platforms.
func isBackspace(ev hook.KeyEvent) bool {
	switch ev.KeyCode {
	case 8, 51, 22, 65288: // win VK_BACK, macOS, X11 keycode, X keysym
		return true
	}
	return ev.Char == '\b'
}
