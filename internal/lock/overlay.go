package lock

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ProcOverlay runs the fullscreen overlay as a child process. The overlay
// binary draws the lock screen and exits when killed; keeping it out of
// process means a wedged GUI loop can never stall the event callback.
type ProcOverlay struct {
	path   string
	args   []string
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewProcOverlay points the overlay at the given binary. An empty path
// resolves to an expandd-overlay binary next to the running executable.
func NewProcOverlay(path string, logger *slog.Logger) *ProcOverlay {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		if exe, err := os.Executable(); err == nil {
			path = exe + "-overlay"
		} else {
			path = "expandd-overlay"
		}
	}
	return &ProcOverlay{path: path, logger: logger.With("component", "overlay")}
}

// SetArgs sets the arguments passed to the overlay binary, typically the
// unlock instructions it should display.
func (o *ProcOverlay) SetArgs(args ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.args = args
}

// Show starts the overlay process. Showing while already shown is a no-op.
func (o *ProcOverlay) Show() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cmd != nil {
		return nil
	}

	cmd := exec.Command(o.path, o.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start overlay %s: %w", o.path, err)
	}
	o.cmd = cmd
	o.logger.Debug("overlay shown", "pid", cmd.Process.Pid)

	// Reap the child; it exits on its own if the user closes it.
	go func() {
		_ = cmd.Wait()
		o.mu.Lock()
		if o.cmd == cmd {
			o.cmd = nil
		}
		o.mu.Unlock()
	}()
	return nil
}

// Hide kills the overlay process if it is running.
func (o *ProcOverlay) Hide() error {
	o.mu.Lock()
	cmd := o.cmd
	o.cmd = nil
	o.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill overlay: %w", err)
	}
	return nil
}
