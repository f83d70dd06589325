//go:build windows

package hook

import (
	"context"
	"log/slog"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Low-level keyboard hook constants.
const (
	whKeyboardLL = 13
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105

	vkShift    = 0x10
	vkControl  = 0x11
	vkMenu     = 0x12
	vkLWin     = 0x5B
	vkRWin     = 0x5C
	vkLShift   = 0xA0
	vkRShift   = 0xA1
	vkLControl = 0xA2
	vkRControl = 0xA3
	vkLMenu    = 0xA4
	vkRMenu    = 0xA5

	llkhfInjected = 0x10
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx  = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHook = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx    = user32.NewProc("CallNextHookEx")
	procGetMessage        = user32.NewProc("GetMessageW")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
	procToUnicode         = user32.NewProc("ToUnicode")
	procMapVirtualKey     = user32.NewProc("MapVirtualKeyW")
)

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msg struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

// WindowsTap installs a WH_KEYBOARD_LL hook. Unlike the libuiohook backend
// it can genuinely suppress events: returning nonzero from the hook
// procedure stops the event from reaching the focused application.
//
// Modifier state is tracked from the hook's own event stream. The key
// state tables are no use here: GetKeyState reflects what this thread's
// message queue has dequeued, and the hook thread owns no window and
// never receives keyboard input. GetAsyncKeyState fails differently:
// once the hook suppresses an event it never reaches the system state
// tables, so held-while-locked modifiers would read as released.
type WindowsTap struct {
	BaseTap
	dispatcher *Dispatcher
	logger     *slog.Logger

	hook     windows.Handle
	threadID uint32
	done     chan struct{}

	// held and mods are touched only on the hook thread.
	held map[uint32]bool
	mods Modifiers
}

// NewPlatformTap creates the tap for the current platform.
func NewPlatformTap(d *Dispatcher, logger *slog.Logger) Tap {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowsTap{
		dispatcher: d,
		logger:     logger.With("component", "hook"),
	}
}

// Start installs the hook on a dedicated message-loop goroutine. The hook
// procedure runs on that thread; it must return within the OS budget or
// Windows silently removes the hook.
func (t *WindowsTap) Start(ctx context.Context) error {
	if t.IsRunning() {
		t.logger.Warn("tap already started, ignoring")
		return nil
	}

	installed := make(chan error, 1)
	t.done = make(chan struct{})
	t.held = make(map[uint32]bool)
	t.mods = 0

	go t.messageLoop(installed)

	if err := <-installed; err != nil {
		return err
	}
	t.SetRunning(true)
	t.logger.Info("keyboard tap installed", "backend", "WH_KEYBOARD_LL")
	return nil
}

// Stop removes the hook. Idempotent.
func (t *WindowsTap) Stop() error {
	if !t.IsRunning() {
		return nil
	}
	t.SetRunning(false)

	const wmQuit = 0x0012
	procPostThreadMessage.Call(uintptr(t.threadID), wmQuit, 0, 0)
	<-t.done

	t.dispatcher.Reset()
	t.logger.Info("keyboard tap removed")
	return nil
}

// Name implements Tap.
func (t *WindowsTap) Name() string { return "winhook" }

// Available reports whether the hook can be installed. Low-level hooks need
// no special privilege on Windows.
func (t *WindowsTap) Available() (bool, string) {
	return true, "SetWindowsHookEx low-level keyboard hook"
}

// CanSuppress returns true: the hook procedure can swallow events.
func (t *WindowsTap) CanSuppress() bool { return true }

func (t *WindowsTap) messageLoop(installed chan<- error) {
	defer close(t.done)

	// The hook and its message loop must live on the same OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	t.threadID = windows.GetCurrentThreadId()

	cb := windows.NewCallback(t.hookProc)
	h, _, _ := procSetWindowsHookEx.Call(whKeyboardLL, cb, 0, 0)
	if h == 0 {
		installed <- ErrHookInstallFailed
		return
	}
	t.hook = windows.Handle(h)
	installed <- nil

	var m msg
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(ret) <= 0 {
			break
		}
	}

	procUnhookWindowsHook.Call(uintptr(t.hook))
	t.hook = 0
}

// hookProc is the WH_KEYBOARD_LL procedure. Returning 1 suppresses the
// event; otherwise it is forwarded with CallNextHookEx.
func (t *WindowsTap) hookProc(nCode int32, wParam, lParam uintptr) uintptr {
	if nCode >= 0 && t.IsRunning() {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))

		// Ignore our own synthetic events or the injection engine would
		// feed back into the trigger buffer.
		if kb.Flags&llkhfInjected == 0 {
			ev := t.translate(uint32(wParam), kb)
			if t.dispatcher.Dispatch(ev) == Consume {
				return 1
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func (t *WindowsTap) translate(message uint32, kb *kbdllHookStruct) KeyEvent {
	ev := KeyEvent{
		KeyCode: uint16(kb.VkCode),
		Time:    time.Now(),
	}

	switch message {
	case wmKeyDown, wmSysKeyDown:
		ev.Kind = KindDown
	case wmKeyUp, wmSysKeyUp:
		ev.Kind = KindUp
	}

	if isModifierVk(kb.VkCode) {
		t.trackModifier(kb.VkCode, ev.Kind == KindDown)
		ev.Kind = KindModifiersChanged
	} else {
		ev.Char = charForKey(kb, t.mods.Has(ModShift))
	}
	ev.Modifiers = t.mods
	return ev
}

func isModifierVk(vk uint32) bool {
	switch vk {
	case vkShift, vkControl, vkMenu, vkLWin, vkRWin,
		vkLShift, vkRShift, vkLControl, vkRControl, vkLMenu, vkRMenu:
		return true
	}
	return false
}

// trackModifier folds one modifier transition into the tracked state.
// Left and right variants are kept apart so releasing one shift while
// the other stays down does not drop the modifier.
func (t *WindowsTap) trackModifier(vk uint32, down bool) {
	if down {
		t.held[vk] = true
	} else {
		delete(t.held, vk)
	}
	t.mods = modifiersFrom(t.held)
}

func modifiersFrom(held map[uint32]bool) Modifiers {
	var m Modifiers
	for vk := range held {
		switch vk {
		case vkShift, vkLShift, vkRShift:
			m |= ModShift
		case vkControl, vkLControl, vkRControl:
			m |= ModControl
		case vkMenu, vkLMenu, vkRMenu:
			m |= ModAlt
		case vkLWin, vkRWin:
			m |= ModSuper
		}
	}
	return m
}

// charForKey translates a virtual key to the character it would produce
// under the given shift state, or zero for non-character keys.
func charForKey(kb *kbdllHookStruct, shift bool) rune {
	var state [256]byte
	if shift {
		state[vkShift] = 0x80
	}

	scan, _, _ := procMapVirtualKey.Call(uintptr(kb.VkCode), 0)

	var buf [4]uint16
	n, _, _ := procToUnicode.Call(
		uintptr(kb.VkCode),
		scan,
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0,
	)
	if int32(n) != 1 {
		return 0
	}
	return rune(buf[0])
}
