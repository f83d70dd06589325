// Package snippet owns the trigger→content mapping consumed by the matcher.
//
// The registry is read-only to the interception core: snippets are created
// and edited externally (settings UI, snippets file) and swapped in
// wholesale. Trigger conflicts resolve last-write-wins.
package snippet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Validation bounds for snippets.
const (
	MinTriggerLen = 2
	MaxTriggerLen = 20
	MaxContentLen = 10000
)

// Typed validation errors.
var (
	ErrTriggerTooShort = errors.New("trigger shorter than 2 characters")
	ErrTriggerTooLong  = errors.New("trigger longer than 20 characters")
	ErrEmptyContent    = errors.New("snippet content is empty")
	ErrContentTooLong  = errors.New("snippet content exceeds 10000 characters")
)

// Snippet is a user-defined trigger and its replacement content.
type Snippet struct {
	ID      string `json:"id" toml:"id" yaml:"id"`
	Trigger string `json:"trigger" toml:"trigger" yaml:"trigger"`
	Content string `json:"content" toml:"content" yaml:"content"`
}

// Validate checks the snippet against the registry's bounds. The trigger is
// compared after trimming surrounding whitespace.
func (s Snippet) Validate() error {
	trigger := strings.TrimSpace(s.Trigger)
	if n := len([]rune(trigger)); n < MinTriggerLen {
		return fmt.Errorf("trigger %q: %w", s.Trigger, ErrTriggerTooShort)
	} else if n > MaxTriggerLen {
		return fmt.Errorf("trigger %q: %w", s.Trigger, ErrTriggerTooLong)
	}
	if s.Content == "" {
		return fmt.Errorf("trigger %q: %w", s.Trigger, ErrEmptyContent)
	}
	if len([]rune(s.Content)) > MaxContentLen {
		return fmt.Errorf("trigger %q: %w", s.Trigger, ErrContentTooLong)
	}
	return nil
}

// normalized returns the snippet with its trigger trimmed.
func (s Snippet) normalized() Snippet {
	s.Trigger = strings.TrimSpace(s.Trigger)
	return s
}

// Registry is the thread-safe snippet set. The matcher holds a reference
// and takes scan snapshots; writers replace the set wholesale.
type Registry struct {
	mu        sync.RWMutex
	byTrigger map[string]Snippet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTrigger: make(map[string]Snippet)}
}

// Add validates and inserts one snippet. An existing snippet with the same
// trigger is overwritten (last write wins).
func (r *Registry) Add(s Snippet) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s = s.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTrigger[s.Trigger] = s
	return nil
}

// Remove deletes the snippet with the given trigger, if present.
func (r *Registry) Remove(trigger string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTrigger, strings.TrimSpace(trigger))
}

// Replace swaps the entire snippet set. Invalid snippets are rejected and
// reported; valid ones are still installed. Used on settings save and
// snippets-file reload.
func (r *Registry) Replace(snippets []Snippet) error {
	next := make(map[string]Snippet, len(snippets))
	var errs []error
	for _, s := range snippets {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		s = s.normalized()
		next[s.Trigger] = s
	}

	r.mu.Lock()
	r.byTrigger = next
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Get returns the snippet for a trigger.
func (r *Registry) Get(trigger string) (Snippet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTrigger[trigger]
	return s, ok
}

// Len returns the number of registered snippets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTrigger)
}

// MinTriggerRunes returns the length in runes of the shortest registered
// trigger, or 0 when the registry is empty. The matcher uses it to skip
// scanning while the rolling window is too short to hold any trigger.
func (r *Registry) MinTriggerRunes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	min := 0
	for trigger := range r.byTrigger {
		if n := len([]rune(trigger)); min == 0 || n < min {
			min = n
		}
	}
	return min
}

// Snapshot returns the snippets in the documented scan order: longest
// trigger first, ties broken lexicographically. When one trigger is a
// suffix of another ("mail" vs "!mail") the longer one is therefore tested
// first; this ordering is part of the matcher's contract and is pinned by
// tests.
func (r *Registry) Snapshot() []Snippet {
	r.mu.RLock()
	out := make([]Snippet, 0, len(r.byTrigger))
	for _, s := range r.byTrigger {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Trigger, out[j].Trigger
		if len(ti) != len(tj) {
			return len(ti) > len(tj)
		}
		return ti < tj
	})
	return out
}
