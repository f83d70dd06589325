package hook

import (
	"context"
	"testing"
)

// recordingListener records events and answers with a fixed verdict.
type recordingListener struct {
	name    string
	verdict Verdict
	events  []KeyEvent
	resets  int
}

func (r *recordingListener) Name() string { return r.name }

func (r *recordingListener) HandleKey(ev KeyEvent) Verdict {
	r.events = append(r.events, ev)
	return r.verdict
}

func (r *recordingListener) Reset() { r.resets++ }

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher()
	a := &recordingListener{name: "a"}
	b := &recordingListener{name: "b"}
	d.Subscribe(a)
	d.Subscribe(b)

	ev := KeyEvent{Kind: KindDown, Char: 'x'}
	if v := d.Dispatch(ev); v != PassThrough {
		t.Errorf("expected PassThrough, got %v", v)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both listeners to see the event, got %d/%d", len(a.events), len(b.events))
	}
}

func TestDispatcherFirstConsumerWins(t *testing.T) {
	d := NewDispatcher()
	a := &recordingListener{name: "a", verdict: PassThrough}
	b := &recordingListener{name: "b", verdict: Consume}
	c := &recordingListener{name: "c", verdict: PassThrough}
	d.Subscribe(a)
	d.Subscribe(b)
	d.Subscribe(c)

	if v := d.Dispatch(KeyEvent{Kind: KindDown, Char: 'x'}); v != Consume {
		t.Errorf("expected Consume, got %v", v)
	}

	// A consumed key exists for exactly one owner.
	if len(c.events) != 0 {
		t.Error("listener after the consumer must not see the event")
	}
	if len(a.events) != 1 {
		t.Error("listener before the consumer still sees the event")
	}
}

func TestSimulatedTapLifecycle(t *testing.T) {
	d := NewDispatcher()
	l := &recordingListener{name: "l"}
	d.Subscribe(l)

	tap := NewSimulated(d)
	if err := tap.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tap.Type("hi")
	if len(l.events) != 4 { // down+up per rune
		t.Errorf("expected 4 events, got %d", len(l.events))
	}

	if err := tap.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if l.resets != 1 {
		t.Errorf("expected 1 reset on stop, got %d", l.resets)
	}

	// Stop is idempotent.
	if err := tap.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if l.resets != 1 {
		t.Errorf("second stop should not reset again, got %d", l.resets)
	}

	// Events after stop are dropped.
	tap.Type("x")
	if len(l.events) != 4 {
		t.Errorf("expected no events after stop, got %d", len(l.events))
	}
}

func TestSimulatedTapRecordsVerdicts(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(&recordingListener{name: "swallow", verdict: Consume})

	tap := NewSimulated(d)
	tap.Start(context.Background())
	defer tap.Stop()

	tap.Inject(KeyEvent{Kind: KindDown, Char: 'q'})
	if len(tap.Suppressed) != 1 || len(tap.Passed) != 0 {
		t.Errorf("expected 1 suppressed / 0 passed, got %d/%d", len(tap.Suppressed), len(tap.Passed))
	}
}

func TestPrintable(t *testing.T) {
	tests := []struct {
		name string
		ev   KeyEvent
		want bool
	}{
		{"letter", KeyEvent{Char: 'a'}, true},
		{"space", KeyEvent{Char: ' '}, true},
		{"punct", KeyEvent{Char: '!'}, true},
		{"none", KeyEvent{Char: 0}, false},
		{"control", KeyEvent{Char: '\x08'}, false},
	}
	for _, tt := range tests {
		if got := tt.ev.Printable(); got != tt.want {
			t.Errorf("%s: Printable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestModifiersHas(t *testing.T) {
	m := ModControl | ModShift
	if !m.Has(ModControl) || !m.Has(ModShift) {
		t.Error("expected control+shift set")
	}
	if m.Has(ModAlt) {
		t.Error("alt should not be set")
	}
	if !m.Has(ModControl | ModShift) {
		t.Error("combined mask should match")
	}
}
