// Package trigger reconstructs a rolling text window from key events and
// detects when its suffix equals a registered snippet trigger.
package trigger

import (
	"strings"
	"sync"
)

// DefaultCapacity is the default rolling-window size in runes.
const DefaultCapacity = 50

// Buffer is a bounded rolling window of typed characters. When the
// capacity is exceeded the oldest characters are evicted, so only the most
// recent capacity runes are retained.
//
// The buffer is mutated only from the event-dispatch context, but may be
// read or cleared by a stop issued from another goroutine, so all access
// is mutex guarded.
type Buffer struct {
	mu       sync.Mutex
	runes    []rune
	capacity int
}

// NewBuffer creates a buffer with the given capacity (runes).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		runes:    make([]rune, 0, capacity),
		capacity: capacity,
	}
}

// Append adds one rune, evicting from the front when full.
func (b *Buffer) Append(r rune) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.runes) >= b.capacity {
		copy(b.runes, b.runes[1:])
		b.runes = b.runes[:len(b.runes)-1]
	}
	b.runes = append(b.runes, r)
}

// DropLast removes the most recent rune, mirroring a backspace.
func (b *Buffer) DropLast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.runes) > 0 {
		b.runes = b.runes[:len(b.runes)-1]
	}
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runes = b.runes[:0]
}

// Len returns the number of buffered runes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runes)
}

// String returns the buffered text, oldest first.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.runes)
}

// HasSuffix reports whether the buffered text ends with s.
func (b *Buffer) HasSuffix(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.HasSuffix(string(b.runes), s)
}
