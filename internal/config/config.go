// Package config handles configuration loading, validation, and hot
// reload for expandd.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"expandd/internal/hotkey"
)

// Version is the current configuration schema version.
const Version = 1

// Validation errors.
var (
	ErrInvalidChord    = errors.New("invalid key chord")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidPath     = errors.New("invalid path")
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// General daemon settings.
	General GeneralConfig `toml:"general" json:"general" yaml:"general"`

	// Snippets configures the trigger/content source.
	Snippets SnippetsConfig `toml:"snippets" json:"snippets" yaml:"snippets"`

	// Hotkeys holds the four named action chords.
	Hotkeys HotkeysConfig `toml:"hotkeys" json:"hotkeys" yaml:"hotkeys"`

	// Lock configures the keyboard lock.
	Lock LockConfig `toml:"lock" json:"lock" yaml:"lock"`

	// Injection configures synthetic input timing.
	Injection InjectionConfig `toml:"injection" json:"injection" yaml:"injection"`

	// Clipboard configures the history observer.
	Clipboard ClipboardConfig `toml:"clipboard" json:"clipboard" yaml:"clipboard"`

	// Feedback configures sounds and notifications.
	Feedback FeedbackConfig `toml:"feedback" json:"feedback" yaml:"feedback"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// GeneralConfig holds daemon-wide settings.
type GeneralConfig struct {
	// DataDir is where the sqlite store and other state live.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// HistoryDays is how long expansion history is kept. 0 disables
	// history entirely.
	HistoryDays int `toml:"history_days" json:"history_days" yaml:"history_days"`
}

// SnippetsConfig configures the snippet source.
type SnippetsConfig struct {
	// Path is the TOML snippet file. When Source is "sqlite" the file is
	// only used for import/export.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Source is "file" or "sqlite".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Watch reloads the snippet file on change.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// BufferCapacity is the rolling trigger buffer size in runes.
	BufferCapacity int `toml:"buffer_capacity" json:"buffer_capacity" yaml:"buffer_capacity"`
}

// HotkeysConfig holds the chord for each named action. An empty chord
// leaves that action unbound.
type HotkeysConfig struct {
	Convert       string `toml:"convert" json:"convert" yaml:"convert"`
	Capture       string `toml:"capture" json:"capture" yaml:"capture"`
	LockToggle    string `toml:"lock_toggle" json:"lock_toggle" yaml:"lock_toggle"`
	PromptEnhance string `toml:"prompt_enhance" json:"prompt_enhance" yaml:"prompt_enhance"`

	// RebindSettleMs is the pause between unregister-all and
	// register-all during a rebind.
	RebindSettleMs int `toml:"rebind_settle_ms" json:"rebind_settle_ms" yaml:"rebind_settle_ms"`
}

// LockConfig configures the keyboard lock.
type LockConfig struct {
	// UnlockChord unlocks immediately while locked.
	UnlockChord string `toml:"unlock_chord" json:"unlock_chord" yaml:"unlock_chord"`

	// HoldSeconds is the continuous Escape hold that force-unlocks.
	HoldSeconds int `toml:"hold_seconds" json:"hold_seconds" yaml:"hold_seconds"`

	// OverlayPath is the overlay binary; empty resolves next to the
	// daemon executable.
	OverlayPath string `toml:"overlay_path" json:"overlay_path" yaml:"overlay_path"`
}

// InjectionConfig configures synthetic input timing.
type InjectionConfig struct {
	// KeyPauseMs is the pause between synthetic backspaces.
	KeyPauseMs int `toml:"key_pause_ms" json:"key_pause_ms" yaml:"key_pause_ms"`

	// SettleMs is the wait between the clipboard write and the paste.
	SettleMs int `toml:"settle_ms" json:"settle_ms" yaml:"settle_ms"`
}

// ClipboardConfig configures the history observer.
type ClipboardConfig struct {
	// History enables clipboard change recording.
	History bool `toml:"history" json:"history" yaml:"history"`

	// PollIntervalMs is how often the clipboard is sampled.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// SuppressTTLMs bounds how long an injection's suppression flag can
	// stay armed before it expires.
	SuppressTTLMs int `toml:"suppress_ttl_ms" json:"suppress_ttl_ms" yaml:"suppress_ttl_ms"`
}

// FeedbackConfig configures user feedback.
type FeedbackConfig struct {
	// Sound beeps on each expansion.
	Sound bool `toml:"sound" json:"sound" yaml:"sound"`

	// Notifications enables desktop notifications.
	Notifications bool `toml:"notifications" json:"notifications" yaml:"notifications"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file, or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// File is the log file path when Output includes file.
	File string `toml:"file" json:"file" yaml:"file"`

	// MaxSizeMB is the rotation size threshold.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxAgeDays is how long rotated logs are kept.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// MaxBackups is the number of rotated logs kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress gzips rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig configures the control socket.
type IPCConfig struct {
	// Enabled turns the control surface on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Socket is a unix socket path, or a TCP loopback address on
	// Windows.
	Socket string `toml:"socket" json:"socket" yaml:"socket"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		General: GeneralConfig{
			DataDir:     DataDir(),
			HistoryDays: 30,
		},
		Snippets: SnippetsConfig{
			Path:           filepath.Join(ExpanddDir(), "snippets.toml"),
			Source:         "file",
			Watch:          true,
			BufferCapacity: 50,
		},
		Hotkeys: HotkeysConfig{
			Convert:        "ctrl+alt+v",
			Capture:        "ctrl+alt+c",
			LockToggle:     "ctrl+alt+l",
			PromptEnhance:  "ctrl+alt+p",
			RebindSettleMs: 50,
		},
		Lock: LockConfig{
			UnlockChord: "ctrl+shift+u",
			HoldSeconds: 3,
		},
		Injection: InjectionConfig{
			KeyPauseMs: 3,
			SettleMs:   50,
		},
		Clipboard: ClipboardConfig{
			History:        true,
			PollIntervalMs: 250,
			SuppressTTLMs:  2000,
		},
		Feedback: FeedbackConfig{
			Sound:         false,
			Notifications: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxAgeDays: 30,
			MaxBackups: 5,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled: true,
			Socket:  DefaultSocketPath(),
		},
	}
}

// ExpanddDir returns the platform-specific configuration directory.
func ExpanddDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "expandd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "expandd")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "expandd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "expandd")
	}
}

// DataDir returns the platform-specific data directory.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(ExpanddDir(), "data")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "expandd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "expandd")
	}
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ExpanddDir(), "config.toml")
}

// DefaultSocketPath returns the default control socket address. Windows
// has no unix sockets accessible to every Go version in the wild, so it
// gets a loopback TCP address instead.
func DefaultSocketPath() string {
	switch runtime.GOOS {
	case "windows":
		return "127.0.0.1:7393"
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "expandd.sock")
		}
		return "/tmp/expandd.sock"
	default:
		return filepath.Join(ExpanddDir(), "expandd.sock")
	}
}

// Load reads configuration from path; a missing file yields defaults.
// TOML, JSON, and YAML are supported by extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies EXPANDD_* environment variables on top of
// the file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EXPANDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EXPANDD_DATA_DIR"); v != "" {
		c.General.DataDir = v
	}
	if v := os.Getenv("EXPANDD_SOCKET"); v != "" {
		c.IPC.Socket = v
	}
	if v := os.Getenv("EXPANDD_SNIPPETS"); v != "" {
		c.Snippets.Path = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	for name, chord := range map[string]string{
		"hotkeys.convert":        c.Hotkeys.Convert,
		"hotkeys.capture":        c.Hotkeys.Capture,
		"hotkeys.lock_toggle":    c.Hotkeys.LockToggle,
		"hotkeys.prompt_enhance": c.Hotkeys.PromptEnhance,
	} {
		if chord == "" {
			continue
		}
		if _, _, err := hotkey.ParseChord(chord); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidChord, name, err))
		}
	}

	if c.Lock.UnlockChord != "" {
		if _, _, err := hotkey.ParseChord(c.Lock.UnlockChord); err != nil {
			errs = append(errs, fmt.Errorf("%w: lock.unlock_chord: %v", ErrInvalidChord, err))
		}
	}
	if c.Lock.HoldSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: lock.hold_seconds must be positive", ErrInvalidDuration))
	}

	if c.Injection.KeyPauseMs < 0 || c.Injection.SettleMs < 0 {
		errs = append(errs, fmt.Errorf("%w: injection timings must not be negative", ErrInvalidDuration))
	}
	if c.Snippets.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("snippets.buffer_capacity must be positive"))
	}
	switch c.Snippets.Source {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("snippets.source must be file or sqlite, got %q", c.Snippets.Source))
	}
	if c.Clipboard.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("%w: clipboard.poll_interval_ms must be positive", ErrInvalidDuration))
	}
	if c.IPC.Enabled && c.IPC.Socket == "" {
		errs = append(errs, fmt.Errorf("%w: ipc.socket is empty", ErrInvalidPath))
	}

	return errors.Join(errs...)
}

// Bindings converts the hotkey section to registry bindings. Empty
// chords are skipped; Validate has already rejected malformed ones.
func (c *Config) Bindings() []hotkey.Binding {
	var out []hotkey.Binding
	for _, slot := range []struct {
		id     string
		chord  string
		action hotkey.Action
	}{
		{"convert", c.Hotkeys.Convert, hotkey.ActionConvert},
		{"capture", c.Hotkeys.Capture, hotkey.ActionCapture},
		{"lock_toggle", c.Hotkeys.LockToggle, hotkey.ActionLockToggle},
		{"prompt_enhance", c.Hotkeys.PromptEnhance, hotkey.ActionPromptEnhance},
	} {
		if slot.chord == "" {
			continue
		}
		key, mods, err := hotkey.ParseChord(slot.chord)
		if err != nil {
			continue
		}
		out = append(out, hotkey.Binding{ID: slot.id, KeyCode: key, Modifiers: mods, Action: slot.action})
	}
	return out
}

// RebindSettle returns the rebind settle delay.
func (c *Config) RebindSettle() time.Duration {
	return time.Duration(c.Hotkeys.RebindSettleMs) * time.Millisecond
}

// HoldDuration returns the Escape hold duration.
func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.Lock.HoldSeconds) * time.Second
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		ExpanddDir(),
		c.General.DataDir,
		filepath.Dir(c.Snippets.Path),
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Save writes the configuration back to path as TOML.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Clone returns a deep copy. All fields are value types, so a struct
// copy is enough.
func (c *Config) Clone() *Config {
	dup := *c
	return &dup
}
