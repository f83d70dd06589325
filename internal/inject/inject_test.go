package inject

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expandd/internal/clipboard"
)

// fakeSynth records synthetic input in operation order.
type fakeSynth struct {
	ops        []string
	backspaces int
	failAfter  int // fail the op at this index (1-based); 0 = never
	calls      int
}

func (f *fakeSynth) step(op string) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return errors.New("os refused event")
	}
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeSynth) Backspace(n int, pause time.Duration) error {
	if err := f.step("backspace"); err != nil {
		return err
	}
	f.backspaces += n
	return nil
}

func (f *fakeSynth) PasteChord() error { return f.step("paste") }
func (f *fakeSynth) CopyChord() error  { return f.step("copy") }

// fakeSuppressor counts suppression arms.
type fakeSuppressor struct{ armed int }

func (f *fakeSuppressor) SuppressNextChange() { f.armed++ }

func fastTimings() Timings {
	return Timings{KeyPause: time.Microsecond, Settle: time.Millisecond}
}

func TestExpandProtocolOrder(t *testing.T) {
	synth := &fakeSynth{}
	clip := clipboard.NewMemory()
	sup := &fakeSuppressor{}
	e := NewEngine(synth, clip, sup, fastTimings(), nil)

	err := e.Expand(context.Background(), ";sig", "Best regards")
	require.NoError(t, err)

	// delete → suppress+write → settle → paste
	assert.Equal(t, []string{"backspace", "paste"}, synth.ops)
	assert.Equal(t, 4, synth.backspaces, "one backspace per trigger rune")
	assert.Equal(t, 1, sup.armed, "history suppression armed exactly once")
	require.Len(t, clip.Writes, 1)
	assert.Equal(t, "Best regards", clip.Writes[0])
}

func TestExpandDeletesRunesNotBytes(t *testing.T) {
	synth := &fakeSynth{}
	e := NewEngine(synth, clipboard.NewMemory(), &fakeSuppressor{}, fastTimings(), nil)

	require.NoError(t, e.Expand(context.Background(), "привет", "x"))
	assert.Equal(t, 6, synth.backspaces)
}

func TestSynthesisFailureAbortsSequence(t *testing.T) {
	synth := &fakeSynth{failAfter: 1}
	clip := clipboard.NewMemory()
	e := NewEngine(synth, clip, &fakeSuppressor{}, fastTimings(), nil)

	err := e.Expand(context.Background(), ";sig", "content")
	require.ErrorIs(t, err, ErrSynthesisFailed)

	// The failed backspace aborts before anything touches the clipboard.
	assert.Empty(t, clip.Writes)
}

func TestPasteFailureReportedAfterClipboardWrite(t *testing.T) {
	synth := &fakeSynth{failAfter: 2}
	clip := clipboard.NewMemory()
	e := NewEngine(synth, clip, &fakeSuppressor{}, fastTimings(), nil)

	err := e.Expand(context.Background(), ";sig", "content")
	require.ErrorIs(t, err, ErrSynthesisFailed)

	// Already-sent steps are not rolled back.
	assert.Len(t, clip.Writes, 1)
}

func TestReplaceZeroDeletesSkipsBackspace(t *testing.T) {
	synth := &fakeSynth{}
	e := NewEngine(synth, clipboard.NewMemory(), &fakeSuppressor{}, fastTimings(), nil)

	require.NoError(t, e.Replace(context.Background(), 0, "pasted"))
	assert.Equal(t, []string{"paste"}, synth.ops)
}

func TestOnReplacedCallback(t *testing.T) {
	synth := &fakeSynth{}
	e := NewEngine(synth, clipboard.NewMemory(), &fakeSuppressor{}, fastTimings(), nil)

	var got string
	e.OnReplaced = func(content string) { got = content }

	require.NoError(t, e.Expand(context.Background(), ";ab", "result"))
	assert.Equal(t, "result", got)
}

func TestContextCancelStopsSettle(t *testing.T) {
	synth := &fakeSynth{}
	e := NewEngine(synth, clipboard.NewMemory(), &fakeSuppressor{},
		Timings{KeyPause: time.Microsecond, Settle: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := e.Expand(ctx, ";ab", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, synth.ops, "paste")
}

func TestTransformCopiesConvertsPastes(t *testing.T) {
	synth := &fakeSynth{}
	clip := clipboard.NewMemory()
	clip.Write("selected text")
	sup := &fakeSuppressor{}
	e := NewEngine(synth, clip, sup, fastTimings(), nil)

	err := e.Transform(context.Background(), func(_ context.Context, s string) (string, error) {
		return s + "!", nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"copy", "paste"}, synth.ops)
	assert.Equal(t, "selected text!", clip.Writes[len(clip.Writes)-1])
	// Suppression armed for the copy and for the write-back.
	assert.Equal(t, 2, sup.armed)
}

func TestTransformEmptySelectionIsNoop(t *testing.T) {
	synth := &fakeSynth{}
	clip := clipboard.NewMemory()
	e := NewEngine(synth, clip, &fakeSuppressor{}, fastTimings(), nil)

	err := e.Transform(context.Background(), func(_ context.Context, s string) (string, error) {
		t.Fatal("transform fn must not run on empty selection")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"copy"}, synth.ops)
}
