package lock

import (
	"sync"
	"testing"
	"time"

	"expandd/internal/hook"
)

type fakeOverlay struct {
	mu    sync.Mutex
	shows int
	hides int
}

func (f *fakeOverlay) Show() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
	return nil
}

func (f *fakeOverlay) Hide() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
	return nil
}

func (f *fakeOverlay) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows, f.hides
}

var unlockCombo = Combo{KeyCode: 'U', Modifiers: hook.ModControl | hook.ModShift}

func newTestMachine(hold time.Duration) (*Machine, *fakeOverlay) {
	overlay := &fakeOverlay{}
	m := NewMachine(overlay, Options{
		Unlock:       unlockCombo,
		HoldDuration: hold,
	}, nil)
	return m, overlay
}

func down(code uint16, ch rune, mods hook.Modifiers) hook.KeyEvent {
	return hook.KeyEvent{Kind: hook.KindDown, KeyCode: code, Char: ch, Modifiers: mods, Time: time.Now()}
}

func up(code uint16) hook.KeyEvent {
	return hook.KeyEvent{Kind: hook.KindUp, KeyCode: code, Time: time.Now()}
}

const escCode = 27

func TestUnlockedPassesEverythingThrough(t *testing.T) {
	m, _ := newTestMachine(time.Hour)
	for _, ev := range []hook.KeyEvent{
		down('A', 'a', 0),
		up('A'),
		down(escCode, 0x1b, 0),
		{Kind: hook.KindModifiersChanged, Modifiers: hook.ModControl},
	} {
		if got := m.HandleKey(ev); got != hook.PassThrough {
			t.Errorf("HandleKey(%v) while unlocked = %v, want PassThrough", ev.Kind, got)
		}
	}
}

func TestLockedConsumesAllKeys(t *testing.T) {
	m, _ := newTestMachine(time.Hour)
	m.Lock()

	for _, ev := range []hook.KeyEvent{
		down('A', 'a', 0),
		up('A'),
		down('V', 'v', hook.ModControl),
		{Kind: hook.KindModifiersChanged, Modifiers: hook.ModControl},
	} {
		if got := m.HandleKey(ev); got != hook.Consume {
			t.Errorf("HandleKey(%v) while locked = %v, want Consume", ev, got)
		}
	}
	if m.State() != Locked {
		t.Fatalf("state = %v, want Locked", m.State())
	}
}

func TestUnlockComboUnlocksImmediately(t *testing.T) {
	m, overlay := newTestMachine(time.Hour)
	m.Lock()

	got := m.HandleKey(down('U', 'u', hook.ModControl|hook.ModShift))
	if got != hook.Consume {
		t.Fatalf("unlock combo verdict = %v, want Consume", got)
	}
	if m.State() != Unlocked {
		t.Fatalf("state after combo = %v, want Unlocked", m.State())
	}
	if shows, hides := overlay.counts(); shows != 1 || hides != 1 {
		t.Fatalf("overlay shows=%d hides=%d, want 1 and 1", shows, hides)
	}
}

func TestUnlockComboWithNamedKey(t *testing.T) {
	// "ctrl+enter" parses to the enter keysym; the taps deliver the
	// platform's own code for the key.
	const enterKeysym = 0xff0d
	for _, code := range []uint16{enterKeysym, 13, 36} {
		m := NewMachine(nil, Options{
			Unlock: Combo{KeyCode: enterKeysym, Modifiers: hook.ModControl},
		}, nil)
		m.Lock()

		m.HandleKey(down(code, 0, hook.ModControl))
		if m.State() != Unlocked {
			t.Errorf("enter delivered as keycode %d did not unlock", code)
		}
	}
}

func TestWrongModifiersDoNotUnlock(t *testing.T) {
	m, _ := newTestMachine(time.Hour)
	m.Lock()

	m.HandleKey(down('U', 'u', hook.ModControl))
	if m.State() != Locked {
		t.Fatal("partial combo unlocked the keyboard")
	}
}

func TestEscapeHeldForDurationUnlocks(t *testing.T) {
	m, _ := newTestMachine(30 * time.Millisecond)
	m.Lock()

	m.HandleKey(down(escCode, 0x1b, 0))
	// Auto-repeat keeps delivering downs; they must not restart the timer.
	time.Sleep(15 * time.Millisecond)
	m.HandleKey(down(escCode, 0x1b, 0))

	deadline := time.After(time.Second)
	for m.State() != Unlocked {
		select {
		case <-deadline:
			t.Fatal("escape hold never unlocked")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEscapeReleaseCancelsAndRestartsTimer(t *testing.T) {
	m, _ := newTestMachine(60 * time.Millisecond)
	m.Lock()

	// Hold most of the duration, then let go.
	m.HandleKey(down(escCode, 0x1b, 0))
	time.Sleep(40 * time.Millisecond)
	m.HandleKey(up(escCode))

	time.Sleep(40 * time.Millisecond)
	if m.State() != Locked {
		t.Fatal("released escape still unlocked the keyboard")
	}

	// A fresh press starts from zero, not from the earlier 40ms.
	m.HandleKey(down(escCode, 0x1b, 0))
	time.Sleep(30 * time.Millisecond)
	if m.State() != Locked {
		t.Fatal("timer carried over from the cancelled hold")
	}
	time.Sleep(60 * time.Millisecond)
	if m.State() != Unlocked {
		t.Fatal("second hold never unlocked")
	}
}

func TestLockWithoutPermissionIsNoop(t *testing.T) {
	overlay := &fakeOverlay{}
	m := NewMachine(overlay, Options{
		Unlock:     unlockCombo,
		Permission: func() bool { return false },
	}, nil)

	m.Lock()

	if m.State() != Unlocked {
		t.Fatal("locked without suppression permission")
	}
	if shows, _ := overlay.counts(); shows != 0 {
		t.Fatal("overlay shown for a refused lock")
	}
}

func TestToggle(t *testing.T) {
	m, _ := newTestMachine(time.Hour)

	m.Toggle()
	if m.State() != Locked {
		t.Fatal("toggle did not lock")
	}
	m.Toggle()
	if m.State() != Unlocked {
		t.Fatal("toggle did not unlock")
	}
}

func TestOnChangeNotifications(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	m := NewMachine(nil, Options{
		Unlock: unlockCombo,
		OnChange: func(s State) {
			mu.Lock()
			transitions = append(transitions, s)
			mu.Unlock()
		},
	}, nil)

	m.Lock()
	m.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != Locked || transitions[1] != Unlocked {
		t.Fatalf("transitions = %v, want [locked unlocked]", transitions)
	}
}

func TestResetCancelsHoldTimer(t *testing.T) {
	m, _ := newTestMachine(20 * time.Millisecond)
	m.Lock()

	m.HandleKey(down(escCode, 0x1b, 0))
	m.Reset()

	time.Sleep(50 * time.Millisecond)
	if m.State() != Locked {
		t.Fatal("reset did not cancel the pending hold timer")
	}
}
