// Package inject replaces just-typed trigger text with snippet content in
// the focused application.
//
// The replacement protocol is delete → suppress → write → settle → paste:
// synthetic backspaces remove the trigger, the clipboard history observer
// is told to ignore the next write, the content lands on the clipboard,
// and after a settle delay a synthetic paste chord drops it into the
// target. The pauses are not cosmetic: input subsystems drop or reorder
// synthetic events posted back to back, and the target application needs
// time to observe the deletes before the paste arrives.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSynthesisFailed is returned when the OS refuses to synthesize an
// input event. It aborts the remaining steps of the current sequence but
// never tears down the engine.
var ErrSynthesisFailed = errors.New("failed to synthesize input event")

// Synthesizer posts synthetic keyboard events.
type Synthesizer interface {
	// Backspace emits n delete-previous-character events, each a full
	// down+up, separated by pause.
	Backspace(n int, pause time.Duration) error

	// PasteChord emits the platform's standard paste accelerator.
	PasteChord() error

	// CopyChord emits the platform's standard copy accelerator.
	CopyChord() error
}

// ClipboardWriter is the clipboard surface the engine needs.
type ClipboardWriter interface {
	Write(text string) error
	Read() (string, error)
}

// Suppressor arms the clipboard history's one-shot ignore flag.
type Suppressor interface {
	SuppressNextChange()
}

// Timings control the pacing of an injection sequence.
type Timings struct {
	// KeyPause separates consecutive synthetic key events.
	KeyPause time.Duration

	// Settle is the wait between the clipboard write and the paste chord.
	Settle time.Duration
}

// DefaultTimings returns pacing that tracks what real applications keep up
// with.
func DefaultTimings() Timings {
	return Timings{
		KeyPause: 3 * time.Millisecond,
		Settle:   50 * time.Millisecond,
	}
}

// Engine performs text replacement via synthetic input.
type Engine struct {
	synth    Synthesizer
	clip     ClipboardWriter
	suppress Suppressor
	timings  Timings
	logger   *slog.Logger

	// OnReplaced, when set, runs after each completed sequence with the
	// injected content. Used for expansion history and sound feedback.
	OnReplaced func(content string)
}

// NewEngine creates an injection engine.
func NewEngine(synth Synthesizer, clip ClipboardWriter, suppress Suppressor, timings Timings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if timings == (Timings{}) {
		timings = DefaultTimings()
	}
	return &Engine{
		synth:    synth,
		clip:     clip,
		suppress: suppress,
		timings:  timings,
		logger:   logger.With("component", "inject"),
	}
}

// Expand replaces a just-typed trigger with content.
func (e *Engine) Expand(ctx context.Context, trigger, content string) error {
	return e.Replace(ctx, len([]rune(trigger)), content)
}

// Replace deletes deleteCount characters before the caret and pastes
// content in their place. Always called off the event callback; partial
// sequences already sent to the OS are not rolled back on failure.
func (e *Engine) Replace(ctx context.Context, deleteCount int, content string) error {
	if deleteCount > 0 {
		if err := e.synth.Backspace(deleteCount, e.timings.KeyPause); err != nil {
			e.logger.Error("backspace synthesis failed", "count", deleteCount, "error", err)
			return fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
		}
	}

	e.suppress.SuppressNextChange()
	if err := e.clip.Write(content); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}

	if err := e.sleep(ctx, e.timings.Settle); err != nil {
		return err
	}

	if err := e.synth.PasteChord(); err != nil {
		e.logger.Error("paste synthesis failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	if e.OnReplaced != nil {
		e.OnReplaced(content)
	}
	return nil
}

// Transform copies the current selection, runs fn over it, and pastes the
// result back over the selection. Used by the layout-conversion and
// prompt-enhancement actions; fn may block (it can call a remote service),
// which is why Transform takes a context.
func (e *Engine) Transform(ctx context.Context, fn func(context.Context, string) (string, error)) error {
	e.suppress.SuppressNextChange()
	if err := e.synth.CopyChord(); err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if err := e.sleep(ctx, e.timings.Settle); err != nil {
		return err
	}

	text, err := e.clip.Read()
	if err != nil {
		return fmt.Errorf("clipboard read: %w", err)
	}
	if text == "" {
		e.logger.Warn("transform requested with no selection")
		return nil
	}

	out, err := fn(ctx, text)
	if err != nil {
		return err
	}

	// No characters to delete: the paste replaces the live selection.
	return e.Replace(ctx, 0, out)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
