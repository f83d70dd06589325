// Package lock implements the keyboard lock: a mode that swallows every
// key event until the unlock combination is pressed or Escape is held
// long enough. An external overlay process shows the user the keyboard
// is locked and how to get out.
package lock

import (
	"log/slog"
	"sync"
	"time"

	"expandd/internal/hook"
)

// State of the lock machine.
type State int

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// DefaultHoldDuration is how long Escape must stay down to force an
// unlock. Long enough that leaning on the keyboard does not unlock, short
// enough to always be an exit.
const DefaultHoldDuration = 3 * time.Second

// Overlay is the fullscreen lock indicator. Show and Hide are fire and
// forget; overlay failures never block a state transition.
type Overlay interface {
	Show() error
	Hide() error
}

// Combo is the key chord that unlocks immediately.
type Combo struct {
	KeyCode   uint16
	Modifiers hook.Modifiers
}

// Options configure a Machine.
type Options struct {
	// Unlock is the immediate unlock combination.
	Unlock Combo
	// HoldDuration overrides DefaultHoldDuration; zero keeps the default.
	HoldDuration time.Duration
	// Permission reports whether input suppression is actually possible.
	// Locking without it would look locked while every key leaks through.
	Permission func() bool
	// OnChange, when set, runs after every state transition with the new
	// state. Runs on whichever goroutine caused the transition.
	OnChange func(State)
}

// Machine is the lock state machine. It implements hook.Listener so the
// tap dispatcher can hand it every key event; while locked it consumes
// everything except its own escape hatches.
type Machine struct {
	overlay Overlay
	logger  *slog.Logger
	opts    Options
	hold    time.Duration

	mu        sync.Mutex
	state     State
	holdTimer *time.Timer
}

// NewMachine builds an unlocked machine. overlay may be nil.
func NewMachine(overlay Overlay, opts Options, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	hold := opts.HoldDuration
	if hold <= 0 {
		hold = DefaultHoldDuration
	}
	return &Machine{
		overlay: overlay,
		logger:  logger.With("component", "lock"),
		opts:    opts,
		hold:    hold,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Lock enables input suppression and shows the overlay. Without the
// suppression permission this is a logged no-op: a lock that cannot
// actually swallow keys is worse than no lock.
func (m *Machine) Lock() {
	if m.opts.Permission != nil && !m.opts.Permission() {
		m.logger.Warn("lock requested without input suppression permission, ignoring")
		return
	}

	m.mu.Lock()
	if m.state == Locked {
		m.mu.Unlock()
		return
	}
	m.state = Locked
	m.mu.Unlock()

	if m.overlay != nil {
		if err := m.overlay.Show(); err != nil {
			m.logger.Error("overlay show failed", "error", err)
		}
	}
	m.logger.Info("keyboard locked", "unlock_hold", m.hold)
	m.notify(Locked)
}

// Unlock disables suppression, hides the overlay, and cancels any pending
// hold timer.
func (m *Machine) Unlock() {
	m.mu.Lock()
	if m.state == Unlocked {
		m.mu.Unlock()
		return
	}
	m.state = Unlocked
	m.cancelHoldLocked()
	m.mu.Unlock()

	if m.overlay != nil {
		if err := m.overlay.Hide(); err != nil {
			m.logger.Error("overlay hide failed", "error", err)
		}
	}
	m.logger.Info("keyboard unlocked")
	m.notify(Unlocked)
}

// Toggle flips the state. Bound to the lock hotkey action.
func (m *Machine) Toggle() {
	if m.State() == Locked {
		m.Unlock()
	} else {
		m.Lock()
	}
}

// Name implements hook.Listener.
func (m *Machine) Name() string { return "lock" }

// HandleKey implements hook.Listener. While locked every event is
// consumed; the unlock combination unlocks immediately, and Escape held
// for the full hold duration unlocks automatically. Releasing Escape
// early cancels the timer, and the next press starts it from zero.
func (m *Machine) HandleKey(ev hook.KeyEvent) hook.Verdict {
	m.mu.Lock()
	if m.state == Unlocked {
		m.mu.Unlock()
		return hook.PassThrough
	}

	if ev.Kind == hook.KindDown && m.isUnlockCombo(ev) {
		m.mu.Unlock()
		m.Unlock()
		return hook.Consume
	}

	if isEscape(ev) {
		switch ev.Kind {
		case hook.KindDown:
			// Auto-repeat delivers more downs while held; the timer
			// keeps running from the first press.
			if m.holdTimer == nil {
				m.holdTimer = time.AfterFunc(m.hold, m.holdElapsed)
			}
		case hook.KindUp:
			m.cancelHoldLocked()
		}
	}
	m.mu.Unlock()
	return hook.Consume
}

// Reset implements hook.Listener. Called when the tap stops; the hold
// timer is meaningless without a key stream, the lock state itself stays.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.cancelHoldLocked()
	m.mu.Unlock()
}

// holdElapsed runs on the timer goroutine once Escape has been down for
// the full duration.
func (m *Machine) holdElapsed() {
	m.mu.Lock()
	m.holdTimer = nil
	locked := m.state == Locked
	m.mu.Unlock()
	if locked {
		m.logger.Info("escape held, auto unlocking")
		m.Unlock()
	}
}

func (m *Machine) cancelHoldLocked() {
	if m.holdTimer != nil {
		m.holdTimer.Stop()
		m.holdTimer = nil
	}
}

func (m *Machine) isUnlockCombo(ev hook.KeyEvent) bool {
	c := m.opts.Unlock
	return c.KeyCode != 0 && comboKeyMatches(ev.KeyCode, c.KeyCode) && ev.Modifiers == c.Modifiers
}

// Chord parsing hands out X keysym values for named keys, but the taps
// deliver platform codes: Windows virtual keys, mac virtual keys, X11
// keycodes. Letters and digits coincide everywhere; the named keys need
// aliases or a chord like "ctrl+enter" could never match.
var comboKeyAliases = map[uint16][]uint16{
	0x20:   {49, 65},       // space
	0xff0d: {13, 36},       // enter
	0xff09: {9, 48, 23},    // tab
	0xff1b: {27, 53, 9},    // escape
	0xffff: {46, 117, 119}, // delete
	0xff52: {38, 126, 111}, // up
	0xff54: {40, 125, 116}, // down
	0xff51: {37, 123, 113}, // left
	0xff53: {39, 124, 114}, // right
}

func comboKeyMatches(got, want uint16) bool {
	if got == want {
		return true
	}
	for _, alias := range comboKeyAliases[want] {
		if got == alias {
			return true
		}
	}
	return false
}

func (m *Machine) notify(s State) {
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
}

// Escape arrives with a different code per platform: ASCII/VK 27,
// mac virtual key 53, X11 keycode 9, X11 keysym 65307.
func isEscape(ev hook.KeyEvent) bool {
	switch ev.KeyCode {
	case 27, 53, 9, 65307:
		return true
	}
	return ev.Char == 0x1b
}
