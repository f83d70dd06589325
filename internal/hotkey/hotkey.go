// Package hotkey registers system-wide key chords and dispatches the
// actions bound to them. Registration goes through a Backend so the same
// registry works over golang.design/x/hotkey, the desktop portal on
// Wayland, or an in-memory fake.
package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"expandd/internal/hook"
)

var (
	// ErrInvalidBinding marks a binding the registry refuses to install.
	ErrInvalidBinding = errors.New("invalid hotkey binding")
	// ErrDuplicateBinding marks a binding whose ID or chord is already taken.
	ErrDuplicateBinding = errors.New("duplicate hotkey binding")
	// ErrBackendNotAvailable is returned when no backend can run on this system.
	ErrBackendNotAvailable = errors.New("hotkey backend not available on this system")
)

// Action names what a hotkey does when it fires.
type Action string

const (
	// ActionConvert re-types the current selection in the other keyboard layout.
	ActionConvert Action = "convert"
	// ActionCapture saves the current selection as a new snippet.
	ActionCapture Action = "capture"
	// ActionLockToggle locks or unlocks keyboard input.
	ActionLockToggle Action = "lock_toggle"
	// ActionPromptEnhance rewrites the current selection through the enhancer.
	ActionPromptEnhance Action = "prompt_enhance"
)

// knownActions gates validation; config files carry actions as strings.
var knownActions = map[Action]bool{
	ActionConvert:       true,
	ActionCapture:       true,
	ActionLockToggle:    true,
	ActionPromptEnhance: true,
}

// Valid reports whether a is one of the dispatchable actions.
func (a Action) Valid() bool { return knownActions[a] }

// Binding ties a key chord to an action. KeyCode uses the portable codes
// from ParseChord: uppercase ASCII for letters and digits plus the Key*
// constants for named keys.
type Binding struct {
	ID        string         `toml:"id" json:"id"`
	KeyCode   uint16         `toml:"-" json:"keycode"`
	Modifiers hook.Modifiers `toml:"-" json:"modifiers"`
	Action    Action         `toml:"action" json:"action"`
}

// Chord renders the binding back into "ctrl+alt+v" form.
func (b Binding) Chord() string {
	var parts []string
	if b.Modifiers.Has(hook.ModControl) {
		parts = append(parts, "ctrl")
	}
	if b.Modifiers.Has(hook.ModAlt) {
		parts = append(parts, "alt")
	}
	if b.Modifiers.Has(hook.ModShift) {
		parts = append(parts, "shift")
	}
	if b.Modifiers.Has(hook.ModSuper) {
		parts = append(parts, "super")
	}
	parts = append(parts, keyName(b.KeyCode))
	return strings.Join(parts, "+")
}

func (b Binding) validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBinding)
	}
	if b.KeyCode == 0 {
		return fmt.Errorf("%w %q: no key", ErrInvalidBinding, b.ID)
	}
	if !b.Action.Valid() {
		return fmt.Errorf("%w %q: unknown action %q", ErrInvalidBinding, b.ID, b.Action)
	}
	return nil
}

// Portable codes for the named keys chords can use. Letters and digits
// use their uppercase ASCII value.
const (
	KeySpace  uint16 = 0x20
	KeyEnter  uint16 = 0xff0d
	KeyTab    uint16 = 0xff09
	KeyEscape uint16 = 0xff1b
	KeyDelete uint16 = 0xffff
	KeyUp     uint16 = 0xff52
	KeyDown   uint16 = 0xff54
	KeyLeft   uint16 = 0xff51
	KeyRight  uint16 = 0xff53
)

var namedKeys = map[string]uint16{
	"space":  KeySpace,
	"enter":  KeyEnter,
	"return": KeyEnter,
	"tab":    KeyTab,
	"escape": KeyEscape,
	"esc":    KeyEscape,
	"delete": KeyDelete,
	"del":    KeyDelete,
	"up":     KeyUp,
	"down":   KeyDown,
	"left":   KeyLeft,
	"right":  KeyRight,
}

func keyName(code uint16) string {
	for name, c := range namedKeys {
		if c == code && name != "esc" && name != "del" && name != "return" {
			return name
		}
	}
	if (code >= 'A' && code <= 'Z') || (code >= '0' && code <= '9') {
		return strings.ToLower(string(rune(code)))
	}
	return fmt.Sprintf("0x%x", code)
}

// ParseChord converts a chord string such as "ctrl+alt+v" into a key code
// and modifier set. The last segment is the key; everything before it is
// a modifier.
func ParseChord(chord string) (uint16, hook.Modifiers, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(chord)), "+")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return 0, 0, fmt.Errorf("empty chord %q", chord)
	}

	var mods hook.Modifiers
	for _, part := range parts[:len(parts)-1] {
		switch part {
		case "ctrl", "control":
			mods |= hook.ModControl
		case "alt", "option":
			mods |= hook.ModAlt
		case "shift":
			mods |= hook.ModShift
		case "super", "win", "cmd", "meta":
			mods |= hook.ModSuper
		default:
			return 0, 0, fmt.Errorf("unsupported modifier %q in %q", part, chord)
		}
	}

	keyStr := parts[len(parts)-1]
	if code, ok := namedKeys[keyStr]; ok {
		return code, mods, nil
	}
	if len(keyStr) == 1 {
		r := rune(keyStr[0])
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return uint16(strings.ToUpper(keyStr)[0]), mods, nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported key %q in %q", keyStr, chord)
}

// Handle is a live registration. Fired delivers one value per chord press;
// Close tears the registration down and after it returns the channel must
// not be read.
type Handle interface {
	Fired() <-chan struct{}
	Close() error
}

// Backend abstracts system-level chord registration so the registry does
// not care which display server it is running under.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Available reports whether the backend can run here, with a reason
	// when it cannot.
	Available() (bool, string)

	// Register installs one chord and returns its live handle.
	Register(b Binding) (Handle, error)
}

// SortBindings orders bindings by ID so registration and error reporting
// are deterministic. The sort is stable: with a duplicated ID the earlier
// entry keeps precedence.
func SortBindings(bindings []Binding) {
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].ID < bindings[j].ID })
}
