//go:build linux

package hotkey

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"expandd/internal/hook"
)

// Desktop portal constants for global shortcuts.
const (
	portalService            = "org.freedesktop.portal.Desktop"
	portalPath               = "/org/freedesktop/portal/desktop"
	portalShortcutsInterface = "org.freedesktop.portal.GlobalShortcuts"
	portalRequestInterface   = "org.freedesktop.portal.Request"

	portalRequestTimeout = 5 * time.Second
)

// PortalBackend registers chords through the org.freedesktop.portal
// GlobalShortcuts interface. This is the only sanctioned path on Wayland,
// where clients cannot grab keys directly. The compositor may show the
// user a consent dialog on the first bind.
type PortalBackend struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	session dbus.ObjectPath
	signals chan *dbus.Signal
	handles map[string]*portalHandle
	tokenN  int
}

// NewPortalBackend returns the portal backed Backend. The D-Bus session
// is established lazily on the first Register.
func NewPortalBackend(logger *slog.Logger) *PortalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortalBackend{
		logger:  logger.With("component", "hotkey", "backend", "portal"),
		handles: make(map[string]*portalHandle),
	}
}

func (p *PortalBackend) Name() string { return "portal" }

func (p *PortalBackend) Available() (bool, string) {
	if os.Getenv("WAYLAND_DISPLAY") == "" && os.Getenv("XDG_SESSION_TYPE") != "wayland" {
		return false, "not a wayland session"
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return false, fmt.Sprintf("session bus: %v", err)
	}
	var owner string
	if err := conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, portalService).Store(&owner); err != nil {
		return false, "desktop portal not running"
	}
	return true, ""
}

func (p *PortalBackend) Register(b Binding) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSession(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendNotAvailable, err)
	}

	h := &portalHandle{
		backend: p,
		id:      b.ID,
		trigger: portalTrigger(b),
		fired:   make(chan struct{}, 1),
	}
	p.handles[b.ID] = h

	if err := p.bindAllLocked(); err != nil {
		delete(p.handles, b.ID)
		return nil, err
	}
	p.logger.Info("portal shortcut bound", "id", b.ID, "trigger", portalTrigger(b))
	return h, nil
}

// ensureSession connects the bus, subscribes to Activated, and creates
// the portal session. Caller holds p.mu.
func (p *PortalBackend) ensureSession() error {
	if p.session != "" {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}
	p.conn = conn

	p.signals = make(chan *dbus.Signal, 16)
	conn.Signal(p.signals)
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(portalShortcutsInterface),
		dbus.WithMatchMember("Activated"),
	); err != nil {
		return fmt.Errorf("subscribe Activated: %w", err)
	}

	results, err := p.portalCall("CreateSession", map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(p.nextToken()),
		"session_handle_token": dbus.MakeVariant(p.nextToken()),
	})
	if err != nil {
		return fmt.Errorf("CreateSession: %w", err)
	}
	raw, ok := results["session_handle"]
	if !ok {
		return fmt.Errorf("CreateSession: no session handle in response")
	}
	sessionStr, _ := raw.Value().(string)
	p.session = dbus.ObjectPath(sessionStr)

	go p.listen()
	return nil
}

// bindAllLocked re-sends the full shortcut set. The portal treats each
// BindShortcuts call as the complete desired set. Caller holds p.mu.
func (p *PortalBackend) bindAllLocked() error {
	type shortcut struct {
		ID   string
		Data map[string]dbus.Variant
	}
	shortcuts := make([]shortcut, 0, len(p.handles))
	for id, h := range p.handles {
		shortcuts = append(shortcuts, shortcut{
			ID: id,
			Data: map[string]dbus.Variant{
				"description":       dbus.MakeVariant(id),
				"preferred_trigger": dbus.MakeVariant(h.trigger),
			},
		})
	}

	obj := p.conn.Object(portalService, portalPath)
	call := obj.Call(portalShortcutsInterface+".BindShortcuts", 0,
		p.session, shortcuts, "",
		map[string]dbus.Variant{"handle_token": dbus.MakeVariant(p.nextToken())})
	if call.Err != nil {
		return fmt.Errorf("BindShortcuts: %w", call.Err)
	}
	return nil
}

// portalCall invokes a GlobalShortcuts method that answers through a
// Request object and waits for its Response signal.
func (p *PortalBackend) portalCall(method string, options map[string]dbus.Variant) (map[string]dbus.Variant, error) {
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(portalRequestInterface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, err
	}

	obj := p.conn.Object(portalService, portalPath)
	var request dbus.ObjectPath
	if err := obj.Call(portalShortcutsInterface+"."+method, 0, options).Store(&request); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(portalRequestTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return nil, fmt.Errorf("portal request timed out")
		case sig, ok := <-p.signals:
			if !ok {
				return nil, fmt.Errorf("signal channel closed")
			}
			if sig.Name != portalRequestInterface+".Response" || sig.Path != request {
				continue
			}
			if len(sig.Body) < 2 {
				return nil, fmt.Errorf("malformed portal response")
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

// listen routes Activated signals to the handle of the named shortcut.
func (p *PortalBackend) listen() {
	for sig := range p.signals {
		if sig.Name != portalShortcutsInterface+".Activated" || len(sig.Body) < 2 {
			continue
		}
		id, _ := sig.Body[1].(string)

		p.mu.Lock()
		h := p.handles[id]
		p.mu.Unlock()
		if h == nil {
			continue
		}
		select {
		case h.fired <- struct{}{}:
		default:
			p.logger.Warn("shortcut fire dropped", "id", id)
		}
	}
}

func (p *PortalBackend) nextToken() string {
	p.tokenN++
	return fmt.Sprintf("expandd%d", p.tokenN)
}

func (p *PortalBackend) unregister(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handles[id]; !ok {
		return nil
	}
	delete(p.handles, id)
	if p.session == "" {
		return nil
	}
	return p.bindAllLocked()
}

type portalHandle struct {
	backend *PortalBackend
	id      string
	trigger string
	fired   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (h *portalHandle) Fired() <-chan struct{} { return h.fired }

func (h *portalHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.backend.unregister(h.id)
		close(h.fired)
	})
	return h.closeErr
}

// portalTrigger renders a binding in the portal accelerator syntax,
// e.g. "CTRL+ALT+v". Super is LOGO in portal terms.
func portalTrigger(b Binding) string {
	var parts []string
	if b.Modifiers.Has(hook.ModControl) {
		parts = append(parts, "CTRL")
	}
	if b.Modifiers.Has(hook.ModAlt) {
		parts = append(parts, "ALT")
	}
	if b.Modifiers.Has(hook.ModShift) {
		parts = append(parts, "SHIFT")
	}
	if b.Modifiers.Has(hook.ModSuper) {
		parts = append(parts, "LOGO")
	}
	parts = append(parts, keyName(b.KeyCode))
	return strings.Join(parts, "+")
}
