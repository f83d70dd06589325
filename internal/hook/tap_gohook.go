//go:build !windows

package hook

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	gohook "github.com/robotn/gohook"
)

// libuiohook modifier masks (left | right variants).
const (
	maskShift   = 1<<0 | 1<<4
	maskControl = 1<<1 | 1<<5
	maskSuper   = 1<<2 | 1<<6
	maskAlt     = 1<<3 | 1<<7
)

// GohookTap captures keyboard events through libuiohook (CGEventTap on
// macOS, XRecord on Linux). It observes the stream but cannot suppress
// events; Consume verdicts are honored only by taps that can.
type GohookTap struct {
	BaseTap
	dispatcher *Dispatcher
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	warnedSuppress bool
}

// NewPlatformTap creates the tap for the current platform.
func NewPlatformTap(d *Dispatcher, logger *slog.Logger) Tap {
	if logger == nil {
		logger = slog.Default()
	}
	return &GohookTap{
		dispatcher: d,
		logger:     logger.With("component", "hook"),
	}
}

// Start installs the global hook and begins dispatching.
func (t *GohookTap) Start(ctx context.Context) error {
	if t.IsRunning() {
		t.logger.Warn("tap already started, ignoring")
		return nil
	}

	if ok, reason := t.Available(); !ok {
		t.logger.Error("tap unavailable", "reason", reason)
		return ErrPermissionDenied
	}

	events := gohook.Start()
	if events == nil {
		return ErrHookInstallFailed
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.SetRunning(true)

	go t.loop(ctx, events)

	t.logger.Info("keyboard tap installed", "backend", "gohook", "os", runtime.GOOS)
	return nil
}

// Stop removes the hook. Safe to call at any time, including mid-dispatch.
func (t *GohookTap) Stop() error {
	if !t.IsRunning() {
		return nil
	}
	t.SetRunning(false)
	t.cancel()
	gohook.End()
	<-t.done
	t.dispatcher.Reset()
	t.logger.Info("keyboard tap removed")
	return nil
}

// Name implements Tap.
func (t *GohookTap) Name() string { return "gohook" }

// Available reports whether the hook can be installed.
func (t *GohookTap) Available() (bool, string) {
	switch runtime.GOOS {
	case "darwin":
		return true, "CGEventTap (requires Accessibility permission; install fails without it)"
	case "linux":
		return true, "XRecord (requires an X session)"
	default:
		return true, "libuiohook"
	}
}

// CanSuppress returns false: libuiohook delivers a read-only stream.
func (t *GohookTap) CanSuppress() bool { return false }

func (t *GohookTap) loop(ctx context.Context, events chan gohook.Event) {
	defer close(t.done)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			ev, relevant := translate(raw)
			if !relevant {
				continue
			}
			if t.dispatcher.Dispatch(ev) == Consume && !t.warnedSuppress {
				t.warnedSuppress = true
				t.logger.Warn("listener asked to consume an event but this backend cannot suppress input")
			}
		}
	}
}

// translate normalizes a raw libuiohook event. Mouse and wheel events are
// not relevant to this tap.
func translate(raw gohook.Event) (KeyEvent, bool) {
	var kind Kind
	switch raw.Kind {
	case gohook.KeyDown, gohook.KeyHold:
		kind = KindDown
	case gohook.KeyUp:
		kind = KindUp
	default:
		return KeyEvent{}, false
	}

	ev := KeyEvent{
		Kind:      kind,
		KeyCode:   raw.Rawcode,
		Modifiers: translateMask(raw.Mask),
		Time:      time.Now(),
	}
	if raw.Keychar != 0 && raw.Keychar != 65535 {
		ev.Char = raw.Keychar
	}
	if ev.Char == 0 && isModifierCode(raw.Rawcode) {
		ev.Kind = KindModifiersChanged
	}
	return ev, true
}

func translateMask(mask uint16) Modifiers {
	var m Modifiers
	if mask&maskShift != 0 {
		m |= ModShift
	}
	if mask&maskControl != 0 {
		m |= ModControl
	}
	if mask&maskAlt != 0 {
		m |= ModAlt
	}
	if mask&maskSuper != 0 {
		m |= ModSuper
	}
	return m
}

// isModifierCode reports whether the raw code is a bare modifier key.
func isModifierCode(code uint16) bool {
	switch runtime.GOOS {
	case "darwin":
		switch code {
		case 54, 55, 56, 57, 58, 59, 60, 61, 62, 63:
			return true
		}
	default:
		// X11 keycodes for Shift/Ctrl/Alt/Super, left and right.
		switch code {
		case 37, 50, 62, 64, 105, 108, 133, 134:
			return true
		}
	}
	return false
}
