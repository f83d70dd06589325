// Package feedback surfaces events to the user through desktop
// notifications and short beeps. Everything here is best effort; a
// feedback failure is logged and otherwise ignored.
package feedback

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

const appTitle = "expandd"

// Notifier sends user-facing feedback. The engine depends on this
// interface so tests can swap the desktop-backed implementation out.
type Notifier interface {
	// Expanded signals a snippet expansion.
	Expanded(trigger string)
	// LockChanged signals the keyboard lock turning on or off.
	LockChanged(locked bool)
	// PermissionNeeded tells the user an OS permission blocks a feature.
	PermissionNeeded(what string)
	// Warn surfaces a non-fatal problem.
	Warn(message string)
}

// Desktop is the beeep-backed Notifier.
type Desktop struct {
	logger *slog.Logger
	// Sound enables the expansion beep; notifications are always on.
	Sound bool
}

// NewDesktop returns a Desktop notifier.
func NewDesktop(sound bool, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{logger: logger.With("component", "feedback"), Sound: sound}
}

func (d *Desktop) Expanded(trigger string) {
	if !d.Sound {
		return
	}
	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		d.logger.Debug("expansion beep failed", "error", err)
	}
	_ = trigger
}

func (d *Desktop) LockChanged(locked bool) {
	msg := "Keyboard unlocked"
	if locked {
		msg = "Keyboard locked. Press the unlock combination or hold Escape for 3 seconds."
	}
	if err := beeep.Notify(appTitle, msg, ""); err != nil {
		d.logger.Debug("lock notification failed", "error", err)
	}
}

func (d *Desktop) PermissionNeeded(what string) {
	msg := "Missing permission: " + what + ". Grant it in system settings and retry."
	if err := beeep.Alert(appTitle, msg, ""); err != nil {
		d.logger.Warn("permission alert failed", "error", err)
	}
}

func (d *Desktop) Warn(message string) {
	if err := beeep.Notify(appTitle, message, ""); err != nil {
		d.logger.Debug("warn notification failed", "error", err)
	}
}

// Silent is a Notifier that does nothing. Used when feedback is disabled
// in config and as a test double.
type Silent struct{}

func (Silent) Expanded(string)         {}
func (Silent) LockChanged(bool)        {}
func (Silent) PermissionNeeded(string) {}
func (Silent) Warn(string)             {}
