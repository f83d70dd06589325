package hotkey

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expandd/internal/hook"
)

// ============================================================================
// Chord parsing
// ============================================================================

func TestParseChord(t *testing.T) {
	tests := []struct {
		chord    string
		wantKey  uint16
		wantMods hook.Modifiers
	}{
		{"ctrl+alt+v", 'V', hook.ModControl | hook.ModAlt},
		{"ctrl+shift+l", 'L', hook.ModControl | hook.ModShift},
		{"super+space", KeySpace, hook.ModSuper},
		{"cmd+c", 'C', hook.ModSuper},
		{"shift+1", '1', hook.ModShift},
		{"Ctrl+Alt+P", 'P', hook.ModControl | hook.ModAlt},
		{"escape", KeyEscape, 0},
	}
	for _, tt := range tests {
		t.Run(tt.chord, func(t *testing.T) {
			key, mods, err := ParseChord(tt.chord)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantMods, mods)
		})
	}
}

func TestParseChordRejectsUnknown(t *testing.T) {
	for _, chord := range []string{"", "hyper+v", "ctrl+volumeup", "ctrl+"} {
		_, _, err := ParseChord(chord)
		assert.Error(t, err, "chord %q", chord)
	}
}

func TestBindingChordRoundTrip(t *testing.T) {
	key, mods, err := ParseChord("ctrl+alt+v")
	require.NoError(t, err)
	b := Binding{ID: "convert", KeyCode: key, Modifiers: mods, Action: ActionConvert}
	assert.Equal(t, "ctrl+alt+v", b.Chord())
}

// ============================================================================
// Registry
// ============================================================================

func mustBinding(t *testing.T, id, chord string, action Action) Binding {
	t.Helper()
	key, mods, err := ParseChord(chord)
	require.NoError(t, err)
	return Binding{ID: id, KeyCode: key, Modifiers: mods, Action: action}
}

func newTestRegistry(t *testing.T) (*Registry, *FakeBackend, chan Binding) {
	t.Helper()
	backend := NewFakeBackend()
	fires := make(chan Binding, 8)
	r := NewRegistry(backend, func(b Binding) { fires <- b }, nil)
	r.SetSettle(0)
	t.Cleanup(func() { _ = r.UnregisterAll() })
	return r, backend, fires
}

func TestRegisterAllBindsValidRejectsRest(t *testing.T) {
	r, backend, _ := newTestRegistry(t)

	res := r.RegisterAll([]Binding{
		mustBinding(t, "convert", "ctrl+alt+v", ActionConvert),
		mustBinding(t, "lock", "ctrl+shift+l", ActionLockToggle),
		{ID: "bogus", KeyCode: 'X', Action: Action("launch_missiles")},
		{ID: "nokey", Action: ActionCapture},
	})

	assert.ElementsMatch(t, []string{"convert", "lock"}, res.Bound)
	require.Len(t, res.Failed, 2)
	assert.ErrorIs(t, res.Failed["bogus"], ErrInvalidBinding)
	assert.ErrorIs(t, res.Failed["nokey"], ErrInvalidBinding)
	assert.Error(t, res.Err())
	assert.ElementsMatch(t, []string{"ctrl+alt+v", "ctrl+shift+l"}, backend.Active())
}

func TestRegisterAllRejectsDuplicates(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	res := r.RegisterAll([]Binding{
		mustBinding(t, "convert", "ctrl+alt+v", ActionConvert),
		mustBinding(t, "convert", "ctrl+alt+c", ActionCapture),
		mustBinding(t, "other", "ctrl+alt+v", ActionCapture),
	})

	assert.Equal(t, []string{"convert"}, res.Bound)
	assert.ErrorIs(t, res.Failed["convert"], ErrDuplicateBinding)
	assert.ErrorIs(t, res.Failed["other"], ErrDuplicateBinding)
}

func TestRegisterAllOrderIsDeterministic(t *testing.T) {
	r, backend, _ := newTestRegistry(t)

	// Supplied out of ID order; registration happens sorted by ID.
	res := r.RegisterAll([]Binding{
		mustBinding(t, "lock", "ctrl+shift+l", ActionLockToggle),
		mustBinding(t, "capture", "ctrl+alt+s", ActionCapture),
		mustBinding(t, "enhance", "ctrl+alt+e", ActionPromptEnhance),
		mustBinding(t, "convert", "ctrl+alt+v", ActionConvert),
	})

	require.NoError(t, res.Err())
	assert.Equal(t, []string{"capture", "convert", "enhance", "lock"}, res.Bound)
	assert.Equal(t, []string{"ctrl+alt+s", "ctrl+alt+v", "ctrl+alt+e", "ctrl+shift+l"}, backend.Registered)
}

func TestRegisterAllSurvivesBackendFailure(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	backend.FailChords["ctrl+alt+v"] = errors.New("grab refused")

	res := r.RegisterAll([]Binding{
		mustBinding(t, "convert", "ctrl+alt+v", ActionConvert),
		mustBinding(t, "lock", "ctrl+shift+l", ActionLockToggle),
	})

	assert.Equal(t, []string{"lock"}, res.Bound)
	assert.Error(t, res.Failed["convert"])
}

func TestFireDispatchesBoundAction(t *testing.T) {
	r, backend, fires := newTestRegistry(t)
	res := r.RegisterAll([]Binding{mustBinding(t, "convert", "ctrl+alt+v", ActionConvert)})
	require.NoError(t, res.Err())

	require.NoError(t, backend.Fire("ctrl+alt+v"))

	select {
	case b := <-fires:
		assert.Equal(t, "convert", b.ID)
		assert.Equal(t, ActionConvert, b.Action)
	case <-time.After(time.Second):
		t.Fatal("hotkey fire never dispatched")
	}
}

func TestUnregisterAllTearsDownEverything(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	r.RegisterAll([]Binding{
		mustBinding(t, "convert", "ctrl+alt+v", ActionConvert),
		mustBinding(t, "lock", "ctrl+shift+l", ActionLockToggle),
	})

	require.NoError(t, r.UnregisterAll())

	assert.Empty(t, r.Bound())
	assert.Empty(t, backend.Active())
	assert.Error(t, backend.Fire("ctrl+alt+v"), "fired an unregistered chord")
}

func TestRebindSwapsWithoutInterleaving(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	r.RegisterAll([]Binding{mustBinding(t, "convert", "ctrl+alt+v", ActionConvert)})

	res := r.Rebind([]Binding{
		mustBinding(t, "convert", "ctrl+alt+c", ActionConvert),
		mustBinding(t, "lock", "ctrl+shift+l", ActionLockToggle),
	})
	require.NoError(t, res.Err())

	// Old chord gone, only the new set is live.
	assert.ElementsMatch(t, []string{"ctrl+alt+c", "ctrl+shift+l"}, backend.Active())
	assert.Contains(t, backend.Closed, "ctrl+alt+v")
	// Teardown finished before any new registration started.
	assert.Equal(t, []string{"ctrl+alt+v", "ctrl+alt+c", "ctrl+shift+l"}, backend.Registered)
}

func TestRebindToSameChordSucceeds(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	binding := mustBinding(t, "convert", "ctrl+alt+v", ActionConvert)
	require.NoError(t, r.RegisterAll([]Binding{binding}).Err())

	require.NoError(t, r.Rebind([]Binding{binding}).Err())
	assert.Equal(t, []string{"ctrl+alt+v"}, backend.Active())
}

func TestFireAfterRebindHitsNewBinding(t *testing.T) {
	r, backend, fires := newTestRegistry(t)
	r.RegisterAll([]Binding{mustBinding(t, "convert", "ctrl+alt+v", ActionConvert)})

	r.Rebind([]Binding{mustBinding(t, "convert", "ctrl+alt+c", ActionConvert)})
	require.NoError(t, backend.Fire("ctrl+alt+c"))

	select {
	case b := <-fires:
		assert.Equal(t, "ctrl+alt+c", b.Chord())
	case <-time.After(time.Second):
		t.Fatal("rebound hotkey never fired")
	}
}
