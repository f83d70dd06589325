//go:build windows

package hotkey

import (
	"log/slog"

	"golang.design/x/hotkey"

	"expandd/internal/hook"
)

// NewPlatformBackend returns the hotkey backend for Windows.
func NewPlatformBackend(logger *slog.Logger) Backend { return NewXBackend(logger) }

var xhotkeyModifiers = map[hook.Modifiers]hotkey.Modifier{
	hook.ModControl: hotkey.ModCtrl,
	hook.ModShift:   hotkey.ModShift,
	hook.ModAlt:     hotkey.ModAlt,
	hook.ModSuper:   hotkey.ModWin,
}

func xhotkeyAvailable() (bool, string) { return true, "" }
