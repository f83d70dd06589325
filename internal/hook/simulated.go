package hook

import (
	"context"
	"time"
)

// SimulatedTap is a tap for testing that doesn't hook the real keyboard.
// Events are injected programmatically and dispatched synchronously, the
// same way a platform tap delivers them from the OS callback.
type SimulatedTap struct {
	BaseTap
	dispatcher *Dispatcher

	// Suppressed collects events the dispatcher consumed, in order.
	Suppressed []KeyEvent
	// Passed collects events that passed through, in order.
	Passed []KeyEvent
}

// NewSimulated creates a tap for testing.
func NewSimulated(d *Dispatcher) *SimulatedTap {
	return &SimulatedTap{dispatcher: d}
}

// Start begins the simulated tap.
func (s *SimulatedTap) Start(ctx context.Context) error {
	s.SetRunning(true)
	return nil
}

// Stop stops the simulated tap and resets listeners.
func (s *SimulatedTap) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.SetRunning(false)
	s.dispatcher.Reset()
	return nil
}

// Name implements Tap.
func (s *SimulatedTap) Name() string { return "simulated" }

// Available returns true (simulated is always available).
func (s *SimulatedTap) Available() (bool, string) {
	return true, "simulated tap (for testing)"
}

// CanSuppress returns true; suppressed events are recorded, not forwarded.
func (s *SimulatedTap) CanSuppress() bool { return true }

// Inject dispatches one event as if it came from the OS and returns the
// aggregated verdict.
func (s *SimulatedTap) Inject(ev KeyEvent) Verdict {
	if !s.IsRunning() {
		return PassThrough
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	v := s.dispatcher.Dispatch(ev)
	if v == Consume {
		s.Suppressed = append(s.Suppressed, ev)
	} else {
		s.Passed = append(s.Passed, ev)
	}
	return v
}

// Press injects a down+up pair for a key.
func (s *SimulatedTap) Press(code uint16, ch rune, mods Modifiers) {
	s.Inject(KeyEvent{Kind: KindDown, KeyCode: code, Char: ch, Modifiers: mods})
	s.Inject(KeyEvent{Kind: KindUp, KeyCode: code, Char: ch, Modifiers: mods})
}

// Type injects down+up pairs for every rune in text.
func (s *SimulatedTap) Type(text string) {
	for _, r := range text {
		s.Press(0, r, 0)
	}
}
