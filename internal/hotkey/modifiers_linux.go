//go:build linux

package hotkey

import (
	"log/slog"
	"os"

	"golang.design/x/hotkey"

	"expandd/internal/hook"
)

// NewPlatformBackend picks the hotkey backend for Linux: the desktop
// portal on Wayland, x/hotkey everywhere an X11 display is reachable.
func NewPlatformBackend(logger *slog.Logger) Backend {
	portal := NewPortalBackend(logger)
	if ok, _ := portal.Available(); ok {
		return portal
	}
	return NewXBackend(logger)
}

// Alt is Mod1 and Super is Mod4 on X11.
var xhotkeyModifiers = map[hook.Modifiers]hotkey.Modifier{
	hook.ModControl: hotkey.ModCtrl,
	hook.ModShift:   hotkey.ModShift,
	hook.ModAlt:     hotkey.Mod1,
	hook.ModSuper:   hotkey.Mod4,
}

func xhotkeyAvailable() (bool, string) {
	if os.Getenv("DISPLAY") == "" {
		return false, "no X11 display"
	}
	if os.Getenv("XDG_SESSION_TYPE") == "wayland" && os.Getenv("WAYLAND_DISPLAY") != "" {
		return false, "wayland session, use the portal backend"
	}
	return true, ""
}
