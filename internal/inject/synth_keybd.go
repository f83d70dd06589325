package inject

import (
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"
)

// KeybdSynthesizer posts synthetic key events through the platform input
// APIs (SendInput on Windows, CGEventPost on macOS, uinput on Linux).
type KeybdSynthesizer struct{}

// NewKeybdSynthesizer returns the platform synthesizer.
func NewKeybdSynthesizer() *KeybdSynthesizer { return &KeybdSynthesizer{} }

// Backspace emits n delete-previous-character events with pause between
// them.
func (s *KeybdSynthesizer) Backspace(n int, pause time.Duration) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_BACKSPACE)

	for i := 0; i < n; i++ {
		if err := kb.Launching(); err != nil {
			return err
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
	return nil
}

// PasteChord emits Cmd+V on macOS and Ctrl+V elsewhere.
func (s *KeybdSynthesizer) PasteChord() error {
	return s.chord(keybd_event.VK_V)
}

// CopyChord emits Cmd+C on macOS and Ctrl+C elsewhere.
func (s *KeybdSynthesizer) CopyChord() error {
	return s.chord(keybd_event.VK_C)
}

func (s *KeybdSynthesizer) chord(key int) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(key)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
