package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expandd/internal/clipboard"
	"expandd/internal/config"
	"expandd/internal/hook"
	"expandd/internal/hotkey"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

// ============================================================
// Test doubles
// ============================================================

type fakeSynth struct {
	mu         sync.Mutex
	ops        []string
	backspaces int
}

func (s *fakeSynth) Backspace(n int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "backspace")
	s.backspaces += n
	return nil
}

func (s *fakeSynth) PasteChord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "paste")
	return nil
}

func (s *fakeSynth) CopyChord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "copy")
	return nil
}

func (s *fakeSynth) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...), s.backspaces
}

type recordingNotifier struct {
	mu       sync.Mutex
	expanded []string
	lock     []bool
	warns    []string
}

func (n *recordingNotifier) Expanded(trigger string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expanded = append(n.expanded, trigger)
}

func (n *recordingNotifier) LockChanged(locked bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lock = append(n.lock, locked)
}

func (n *recordingNotifier) PermissionNeeded(string) {}

func (n *recordingNotifier) Warn(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, message)
}

func (n *recordingNotifier) expansions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.expanded...)
}

func (n *recordingNotifier) lockEvents() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.lock...)
}

type nopOverlay struct{}

func (nopOverlay) Show() error { return nil }
func (nopOverlay) Hide() error { return nil }

// ============================================================
// Harness
// ============================================================

type harness struct {
	engine   *Engine
	tap      *hook.SimulatedTap
	backend  *hotkey.FakeBackend
	synth    *fakeSynth
	clip     *clipboard.Memory
	notifier *recordingNotifier
	store    *store.Store
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Snippets.Path = filepath.Join(t.TempDir(), "snippets.toml")
	cfg.Snippets.Watch = false
	cfg.Clipboard.History = false
	cfg.Injection.KeyPauseMs = 0
	cfg.Injection.SettleMs = 1
	cfg.Hotkeys.RebindSettleMs = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()

	h := &harness{
		backend:  hotkey.NewFakeBackend(),
		synth:    &fakeSynth{},
		clip:     clipboard.NewMemory(),
		notifier: &recordingNotifier{},
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "expandd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h.store = st

	deps := Deps{
		Tap: func(d *hook.Dispatcher, _ *slog.Logger) hook.Tap {
			h.tap = hook.NewSimulated(d)
			return h.tap
		},
		HotkeyBackend: h.backend,
		Synth:         h.synth,
		Clip:          h.clip,
		Notifier:      h.notifier,
		Store:         st,
		Overlay:       nopOverlay{},
	}

	eng, err := New(cfg, nil, deps, "test", slog.Default())
	require.NoError(t, err)
	h.engine = eng
	return h
}

func startHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(func() { h.engine.Stop() })
	return h
}

func addSnippet(t *testing.T, h *harness, id, trig, content string) {
	t.Helper()
	require.NoError(t, h.engine.Registry().Add(snippet.Snippet{ID: id, Trigger: trig, Content: content}))
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, what)
}

// ============================================================
// Expansion path
// ============================================================

func TestExpansionEndToEnd(t *testing.T) {
	h := startHarness(t, testConfig(t))
	addSnippet(t, h, "sig", ";sig", "Best regards")

	h.tap.Type(";sig")

	waitFor(t, func() bool {
		ops, _ := h.synth.snapshot()
		return len(ops) == 2
	}, "expansion never ran")

	ops, backspaces := h.synth.snapshot()
	assert.Equal(t, []string{"backspace", "paste"}, ops)
	assert.Equal(t, 4, backspaces)
	assert.Equal(t, []string{"Best regards"}, h.clip.Writes)
	assert.Equal(t, []string{";sig"}, h.notifier.expansions())

	waitFor(t, func() bool {
		n, err := h.store.CountExpansions()
		return err == nil && n == 1
	}, "expansion never recorded")
}

func TestNoExpansionWithoutMatch(t *testing.T) {
	h := startHarness(t, testConfig(t))
	addSnippet(t, h, "sig", ";sig", "Best regards")

	h.tap.Type(";sip hello")
	time.Sleep(30 * time.Millisecond)

	ops, _ := h.synth.snapshot()
	assert.Empty(t, ops)
	assert.Empty(t, h.clip.Writes)
}

func TestSnippetsLoadedFromFileAtStartup(t *testing.T) {
	cfg := testConfig(t)

	reg := snippet.NewRegistry()
	require.NoError(t, reg.Add(snippet.Snippet{ID: "mail", Trigger: "!mail", Content: "me@example.com"}))
	require.NoError(t, snippet.SaveFile(cfg.Snippets.Path, reg))

	h := startHarness(t, cfg)
	assert.Equal(t, 1, h.engine.Registry().Len())

	h.tap.Type("!mail")
	waitFor(t, func() bool {
		return len(h.notifier.expansions()) == 1
	}, "snippet from file never expanded")
}

// ============================================================
// Lock integration
// ============================================================

func TestLockBlocksExpansionAndHotkeys(t *testing.T) {
	h := startHarness(t, testConfig(t))
	addSnippet(t, h, "sig", ";sig", "Best regards")

	locked, err := h.engine.SetLocked(true)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, []bool{true}, h.notifier.lockEvents())

	h.tap.Type(";sig")
	require.NoError(t, h.backend.Fire("ctrl+alt+v"))
	time.Sleep(30 * time.Millisecond)

	ops, _ := h.synth.snapshot()
	assert.Empty(t, ops, "locked engine must not inject")

	locked, err = h.engine.SetLocked(false)
	require.NoError(t, err)
	assert.False(t, locked)

	// The buffer was cleared on lock, so the old half-typed trigger is gone.
	h.tap.Type(";sig")
	waitFor(t, func() bool {
		return len(h.notifier.expansions()) == 1
	}, "expansion after unlock")
}

func TestLockToggleHotkeyWorksWhileLocked(t *testing.T) {
	h := startHarness(t, testConfig(t))

	require.NoError(t, h.backend.Fire("ctrl+alt+l"))
	waitFor(t, func() bool {
		evs := h.notifier.lockEvents()
		return len(evs) == 1 && evs[0]
	}, "lock toggle never locked")

	require.NoError(t, h.backend.Fire("ctrl+alt+l"))
	waitFor(t, func() bool {
		evs := h.notifier.lockEvents()
		return len(evs) == 2 && !evs[1]
	}, "lock toggle never unlocked")
}

// ============================================================
// Hotkey actions
// ============================================================

func TestConvertHotkey(t *testing.T) {
	h := startHarness(t, testConfig(t))

	require.NoError(t, h.clip.Write("ghbdtn"))
	require.NoError(t, h.backend.Fire("ctrl+alt+v"))

	waitFor(t, func() bool {
		ops, _ := h.synth.snapshot()
		return len(ops) == 2
	}, "convert never completed")

	ops, _ := h.synth.snapshot()
	assert.Equal(t, []string{"copy", "paste"}, ops)
	assert.Equal(t, "привет", h.clip.Writes[len(h.clip.Writes)-1])
}

func TestCaptureHotkey(t *testing.T) {
	cfg := testConfig(t)
	h := startHarness(t, cfg)

	require.NoError(t, h.clip.Write("selected text to keep"))
	require.NoError(t, h.backend.Fire("ctrl+alt+c"))

	waitFor(t, func() bool {
		return h.engine.Registry().Len() == 1
	}, "capture never stored a snippet")

	snaps := h.engine.Registry().Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "selected text to keep", snaps[0].Content)

	// Capture persists to the snippet file.
	loaded, err := snippet.LoadFile(cfg.Snippets.Path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, snaps[0].Trigger, loaded[0].Trigger)
}

func TestCaptureSkipsEmptySelection(t *testing.T) {
	h := startHarness(t, testConfig(t))

	require.NoError(t, h.backend.Fire("ctrl+alt+c"))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, h.engine.Registry().Len())
}

func TestPromptEnhanceHotkey(t *testing.T) {
	h := startHarness(t, testConfig(t))

	require.NoError(t, h.clip.Write("  write a   haiku "))
	require.NoError(t, h.backend.Fire("ctrl+alt+p"))

	waitFor(t, func() bool {
		ops, _ := h.synth.snapshot()
		return len(ops) == 2
	}, "enhance never completed")

	assert.Equal(t, "Write a haiku.", h.clip.Writes[len(h.clip.Writes)-1])
}

func TestCustomEnhancer(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	h.engine.deps.Enhancer = func(_ context.Context, text string) (string, error) {
		return text + "!", nil
	}
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(func() { h.engine.Stop() })

	require.NoError(t, h.clip.Write("hello"))
	require.NoError(t, h.backend.Fire("ctrl+alt+p"))

	waitFor(t, func() bool {
		return len(h.clip.Writes) == 2
	}, "custom enhancer never ran")
	assert.Equal(t, "hello!", h.clip.Writes[1])
}

// ============================================================
// Control surface
// ============================================================

func TestStatus(t *testing.T) {
	h := startHarness(t, testConfig(t))
	addSnippet(t, h, "sig", ";sig", "Best regards")

	status, err := h.engine.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "simulated", status.HookBackend)
	assert.Equal(t, "fake", status.HotkeyBackend)
	assert.Equal(t, 1, status.SnippetCount)
	assert.False(t, status.Locked)
}

func TestListSnippets(t *testing.T) {
	h := startHarness(t, testConfig(t))
	addSnippet(t, h, "sig", ";sig", "Best regards")

	infos, err := h.engine.ListSnippets()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ";sig", infos[0].Trigger)
	assert.Equal(t, 12, infos[0].ContentLen)
}

func TestReloadConfigRebindsHotkeys(t *testing.T) {
	h := startHarness(t, testConfig(t))

	result, err := h.engine.ReloadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, result.BindingCount)

	// All four chords are registered again after the rebind.
	assert.ElementsMatch(t,
		[]string{"ctrl+alt+v", "ctrl+alt+c", "ctrl+alt+l", "ctrl+alt+p"},
		h.backend.Active())

	require.NoError(t, h.backend.Fire("ctrl+alt+l"))
	waitFor(t, func() bool {
		return len(h.notifier.lockEvents()) == 1
	}, "rebound hotkey never fired")
}

func TestStopTearsDown(t *testing.T) {
	h := startHarness(t, testConfig(t))

	require.NoError(t, h.engine.Stop())
	assert.Empty(t, h.backend.Active())
	assert.Error(t, h.backend.Fire("ctrl+alt+v"))

	// Stop is idempotent.
	require.NoError(t, h.engine.Stop())
}
