//go:build darwin || linux || windows

package hotkey

import (
	"fmt"
	"log/slog"

	"golang.design/x/hotkey"

	"expandd/internal/hook"
)

// XBackend registers chords through golang.design/x/hotkey. It covers
// Windows, macOS, and X11; under Wayland registration goes through the
// desktop portal backend instead.
type XBackend struct {
	logger *slog.Logger
}

// NewXBackend returns the x/hotkey backed Backend.
func NewXBackend(logger *slog.Logger) *XBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &XBackend{logger: logger.With("component", "hotkey", "backend", "xhotkey")}
}

func (x *XBackend) Name() string { return "xhotkey" }

func (x *XBackend) Available() (bool, string) { return xhotkeyAvailable() }

func (x *XBackend) Register(b Binding) (Handle, error) {
	key, ok := xhotkeyKeys[b.KeyCode]
	if !ok {
		return nil, fmt.Errorf("%w %q: key %s not registrable", ErrInvalidBinding, b.ID, keyName(b.KeyCode))
	}

	var mods []hotkey.Modifier
	for _, m := range []hook.Modifiers{hook.ModControl, hook.ModShift, hook.ModAlt, hook.ModSuper} {
		if b.Modifiers.Has(m) {
			mods = append(mods, xhotkeyModifiers[m])
		}
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return nil, err
	}

	h := &xhotkeyHandle{hk: hk, fired: make(chan struct{}, 1), done: make(chan struct{})}
	go h.pump()
	return h, nil
}

type xhotkeyHandle struct {
	hk    *hotkey.Hotkey
	fired chan struct{}
	done  chan struct{}
}

func (h *xhotkeyHandle) Fired() <-chan struct{} { return h.fired }

func (h *xhotkeyHandle) Close() error {
	close(h.done)
	return h.hk.Unregister()
}

func (h *xhotkeyHandle) pump() {
	for {
		select {
		case <-h.done:
			close(h.fired)
			return
		case <-h.hk.Keydown():
			select {
			case h.fired <- struct{}{}:
			default:
			}
		}
	}
}

// xhotkeyKeys maps the portable key codes onto x/hotkey keys. The hotkey.Key
// values differ per platform but the names do not.
var xhotkeyKeys = buildXhotkeyKeys()

func buildXhotkeyKeys() map[uint16]hotkey.Key {
	m := map[uint16]hotkey.Key{
		KeySpace:  hotkey.KeySpace,
		KeyEnter:  hotkey.KeyReturn,
		KeyTab:    hotkey.KeyTab,
		KeyEscape: hotkey.KeyEscape,
		KeyDelete: hotkey.KeyDelete,
		KeyUp:     hotkey.KeyUp,
		KeyDown:   hotkey.KeyDown,
		KeyLeft:   hotkey.KeyLeft,
		KeyRight:  hotkey.KeyRight,
	}
	letters := []hotkey.Key{
		hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE,
		hotkey.KeyF, hotkey.KeyG, hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ,
		hotkey.KeyK, hotkey.KeyL, hotkey.KeyM, hotkey.KeyN, hotkey.KeyO,
		hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR, hotkey.KeyS, hotkey.KeyT,
		hotkey.KeyU, hotkey.KeyV, hotkey.KeyW, hotkey.KeyX, hotkey.KeyY,
		hotkey.KeyZ,
	}
	for i, k := range letters {
		m[uint16('A'+i)] = k
	}
	digits := []hotkey.Key{
		hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4,
		hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
	}
	for i, k := range digits {
		m[uint16('0'+i)] = k
	}
	return m
}
