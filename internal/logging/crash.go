// Package logging provides structured logging with slog for expandd.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// CrashReport captures the state of the process at panic time. The hook
// callback and the action goroutines run recovered, so a panic in one of
// them lands here instead of taking the daemon down silently.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
	Component    string    `json:"component,omitempty"`
}

// CrashHandler handles panic recovery and crash dump writing.
type CrashHandler struct {
	mu       sync.Mutex
	crashDir string
	version  string
}

// DefaultCrashDir returns the platform-specific crash dump directory.
func DefaultCrashDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "expandd", "crashes")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "expandd", "crashes")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "expandd", "crashes")
	}
}

// NewCrashHandler creates a crash handler writing dumps under crashDir.
// An empty crashDir uses the platform default.
func NewCrashHandler(crashDir, version string) *CrashHandler {
	if crashDir == "" {
		crashDir = DefaultCrashDir()
	}
	return &CrashHandler{crashDir: crashDir, version: version}
}

// Recover runs fn, logging and dumping any panic it raises.
func (h *CrashHandler) Recover(fn func()) {
	defer h.RecoverGoroutine("")
	fn()
}

// RecoverGoroutine is meant to be deferred at the top of a goroutine.
func (h *CrashHandler) RecoverGoroutine(component string) {
	if r := recover(); r != nil {
		h.HandlePanic(r, component)
	}
}

// HandlePanic logs the panic and writes a crash dump. It does not
// re-panic; the caller decides whether the process keeps running.
func (h *CrashHandler) HandlePanic(panicValue interface{}, component string) {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    component,
	}

	Error("panic recovered",
		"panic", report.PanicValue,
		"crash_component", component,
	)

	if err := h.writeCrashDump(report); err != nil {
		Error("failed to write crash dump", "error", err)
	}
}

// writeCrashDump persists the report as a timestamped JSON file.
func (h *CrashHandler) writeCrashDump(report CrashReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.crashDir, 0750); err != nil {
		return fmt.Errorf("create crash dir: %w", err)
	}

	name := fmt.Sprintf("crash-%s.json", report.Timestamp.Format("20060102-150405.000"))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crash report: %w", err)
	}
	return os.WriteFile(filepath.Join(h.crashDir, name), data, 0640)
}

// CleanupOldReports removes crash dumps older than maxAge.
func (h *CrashHandler) CleanupOldReports(maxAge time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := os.ReadDir(h.crashDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(h.crashDir, entry.Name()))
		}
	}
	return nil
}
