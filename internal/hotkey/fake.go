package hotkey

import (
	"fmt"
	"sync"
)

// FakeBackend is an in-memory Backend for tests. Fire simulates a chord
// press; FailChords forces registration errors for specific chords.
type FakeBackend struct {
	mu sync.Mutex
	// FailChords maps a chord string to the error Register returns for it.
	FailChords map[string]error
	// Registered counts Register calls per chord, Close calls included in Closed.
	Registered []string
	Closed     []string

	handles map[string]*fakeHandle
}

// NewFakeBackend returns an empty fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		FailChords: make(map[string]error),
		handles:    make(map[string]*fakeHandle),
	}
}

func (f *FakeBackend) Name() string              { return "fake" }
func (f *FakeBackend) Available() (bool, string) { return true, "" }

func (f *FakeBackend) Register(b Binding) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	chord := b.Chord()
	if err := f.FailChords[chord]; err != nil {
		return nil, err
	}
	f.Registered = append(f.Registered, chord)
	h := &fakeHandle{backend: f, chord: chord, fired: make(chan struct{}, 4)}
	f.handles[chord] = h
	return h, nil
}

// Fire simulates the user pressing the chord. It is an error to fire a
// chord that is not registered.
func (f *FakeBackend) Fire(chord string) error {
	f.mu.Lock()
	h := f.handles[chord]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("chord %q not registered", chord)
	}
	h.fired <- struct{}{}
	return nil
}

// Active returns the chords currently registered.
func (f *FakeBackend) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	chords := make([]string, 0, len(f.handles))
	for c := range f.handles {
		chords = append(chords, c)
	}
	return chords
}

type fakeHandle struct {
	backend *FakeBackend
	chord   string
	fired   chan struct{}
	once    sync.Once
}

func (h *fakeHandle) Fired() <-chan struct{} { return h.fired }

func (h *fakeHandle) Close() error {
	h.once.Do(func() {
		h.backend.mu.Lock()
		delete(h.backend.handles, h.chord)
		h.backend.Closed = append(h.backend.Closed, h.chord)
		h.backend.mu.Unlock()
		close(h.fired)
	})
	return nil
}
