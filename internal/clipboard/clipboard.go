// Package clipboard wraps the shared system clipboard and tracks its
// externally observed history.
//
// The injection engine writes snippet content through this package; a
// one-shot suppression flag keeps those internal writes out of the user's
// clipboard history so expansion leaves no visible trace there.
package clipboard

import (
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// Clipboard is the minimal surface the core needs.
type Clipboard interface {
	// Write replaces the clipboard text.
	Write(text string) error

	// Read returns the current clipboard text, or empty when nothing
	// textual is on it.
	Read() (string, error)
}

// System is the real clipboard.
type System struct{}

// NewSystem returns the system clipboard.
func NewSystem() *System { return &System{} }

// Write replaces the system clipboard text.
func (*System) Write(text string) error { return clipboard.WriteAll(text) }

// Read returns the system clipboard text.
func (*System) Read() (string, error) { return clipboard.ReadAll() }

// Memory is an in-process clipboard for tests.
type Memory struct {
	mu   sync.Mutex
	text string
	// Writes records every Write in order.
	Writes []string
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.Writes = append(m.Writes, text)
	return nil
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

// DefaultSuppressTTL bounds how long a suppression flag stays armed. If no
// clipboard write follows within this window the flag expires, so it cannot
// swallow a later, unrelated user copy.
const DefaultSuppressTTL = 2 * time.Second

// Change records an observed clipboard modification.
type Change struct {
	Time time.Time
	Text string
}

// History polls the clipboard and records user-visible changes. A change
// that lands while the suppression flag is armed consumes the flag and is
// not recorded.
type History struct {
	mu sync.Mutex

	clip     Clipboard
	interval time.Duration
	maxKeep  int

	lastText  string
	changes   []Change
	suppress  bool
	armedAt   time.Time
	ttl       time.Duration

	stopCh  chan struct{}
	running bool
}

// NewHistory creates a history observer over the given clipboard.
func NewHistory(clip Clipboard, pollInterval time.Duration) *History {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &History{
		clip:     clip,
		interval: pollInterval,
		maxKeep:  200,
		ttl:      DefaultSuppressTTL,
	}
}

// SetSuppressTTL overrides the suppression flag lifetime.
func (h *History) SetSuppressTTL(ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ttl = ttl
}

// SuppressNextChange arms the one-shot flag: the next observed clipboard
// change is treated as internal and not recorded. The flag expires after
// the configured TTL.
func (h *History) SuppressNextChange() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.suppress = true
	h.armedAt = time.Now()
}

// Start begins polling. Idempotent.
func (h *History) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	if text, err := h.clip.Read(); err == nil {
		h.lastText = text
	}
	h.mu.Unlock()

	go h.loop()
}

// Stop stops polling. Idempotent.
func (h *History) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// Changes returns a copy of the recorded history, oldest first.
func (h *History) Changes() []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Change, len(h.changes))
	copy(out, h.changes)
	return out
}

func (h *History) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Poll()
		}
	}
}

// Poll checks the clipboard once. Exposed so tests can drive the observer
// without timing dependence.
func (h *History) Poll() {
	text, err := h.clip.Read()
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if text == h.lastText {
		return
	}
	h.lastText = text

	if h.suppress {
		if time.Since(h.armedAt) <= h.ttl {
			// Internal write: consume the flag, record nothing.
			h.suppress = false
			return
		}
		// Flag expired unused; this is a legitimate user change.
		h.suppress = false
	}

	h.changes = append(h.changes, Change{Time: time.Now(), Text: text})
	if len(h.changes) > h.maxKeep {
		h.changes = h.changes[len(h.changes)-h.maxKeep/2:]
	}
}
