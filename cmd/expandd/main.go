// expandd - System-wide text expansion and hotkey daemon
//
//	expandd init            Create the config directory and default files
//	expandd run             Run the daemon
//	expandd status          Show daemon status
//	expandd lock            Engage the keyboard lock
//	expandd unlock          Release the keyboard lock
//	expandd reload          Reload config and snippets
//	expandd snippets        List, export, or import snippets
//	expandd version         Print the version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"expandd/internal/config"
	"expandd/internal/engine"
	"expandd/internal/ipc"
	"expandd/internal/logging"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

var version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "run", "daemon":
		cmdRun()
	case "status":
		cmdStatus()
	case "lock":
		cmdLock(true)
	case "unlock":
		cmdLock(false)
	case "reload":
		cmdReload()
	case "snippets":
		cmdSnippets()
	case "version", "-v", "--version":
		fmt.Printf("expandd %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`expandd - System-wide text expansion and hotkeys

USAGE:
    expandd <command> [options]

COMMANDS:
    init                Create the config directory and default files
    run                 Run the daemon in the foreground
    status              Show status of the running daemon
    lock                Engage the keyboard lock
    unlock              Release the keyboard lock
    reload              Reload config and snippets without restarting
    snippets list       List registered snippets
    snippets export     Export snippets as JSON or YAML
    snippets import     Import snippets from a JSON or YAML file
    version             Print the version
    help                Show this help message

GETTING STARTED:
    1. expandd init                  # One-time setup
    2. (edit ~/.config/expandd/snippets.toml)
    3. expandd run                   # Start the daemon
    4. Type a trigger anywhere; it expands in place.

The keyboard lock swallows every key until the unlock chord is pressed
or Escape is held for the configured duration.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func configPath(fs *flag.FlagSet) *string {
	return fs.String("config", config.ConfigPath(), "Config file path")
}

// dial connects to the running daemon or exits with a hint.
func dial(cfgPath string) *ipc.Client {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("Error loading config: %v", err)
	}
	cfg.ApplyEnvOverrides()

	client := ipc.NewClient(cfg.IPC.Socket)
	if err := client.Connect(); err != nil {
		fatal("Cannot reach the daemon: %v\nIs 'expandd run' running?", err)
	}
	return client
}

func cmdInit() {
	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		fatal("Error creating directories: %v", err)
	}

	path := config.ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			fatal("Error writing config: %v", err)
		}
		fmt.Printf("Wrote default config to %s\n", path)
	} else {
		fmt.Printf("Config already exists at %s\n", path)
	}

	if _, err := os.Stat(cfg.Snippets.Path); os.IsNotExist(err) {
		reg := snippet.NewRegistry()
		reg.Add(snippet.Snippet{
			ID:      "example",
			Trigger: ";hello",
			Content: "Hello from expandd!",
		})
		if err := snippet.SaveFile(cfg.Snippets.Path, reg); err != nil {
			fatal("Error writing snippets file: %v", err)
		}
		fmt.Printf("Wrote example snippets to %s\n", cfg.Snippets.Path)
	}

	fmt.Println()
	fmt.Println("expandd initialized. Next steps:")
	fmt.Println("  1. Edit the snippets file to add your triggers")
	fmt.Println("  2. Start the daemon with 'expandd run'")
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[2:])

	loader := config.NewLoader(*cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		fatal("Error loading config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fatal("Error creating directories: %v", err)
	}

	logger := setupLogging(cfg)
	defer logger.Close()

	crash := logging.NewCrashHandler(logging.DefaultCrashDir(), version)
	defer func() {
		if r := recover(); r != nil {
			crash.HandlePanic(r, "main")
			os.Exit(2)
		}
	}()
	crash.CleanupOldReports(30 * 24 * time.Hour)

	var st *store.Store
	if cfg.Snippets.Source == "sqlite" || cfg.General.HistoryDays > 0 {
		st, err = store.Open(filepath.Join(cfg.General.DataDir, "expandd.db"))
		if err != nil {
			fatal("Error opening store: %v", err)
		}
		defer st.Close()
	}

	eng, err := engine.New(cfg, loader, engine.Deps{Store: st}, version, logger.Logger)
	if err != nil {
		fatal("Error building engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		fatal("Error starting engine: %v", err)
	}
	defer eng.Stop()

	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	var server *ipc.Server
	if cfg.IPC.Enabled {
		server = ipc.NewServer(cfg.IPC.Socket, eng, logger.Logger)
		if err := server.Start(); err != nil {
			logger.Error("ipc server failed to start", "error", err)
		} else {
			defer server.Stop()
		}
	}

	fmt.Printf("expandd %s running (%d snippets). Ctrl-C to stop.\n",
		version, eng.Registry().Len())

	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

func setupLogging(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		format = logging.FormatText
	}

	logCfg := &logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "expandd",
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed, using defaults: %v\n", err)
		return logging.Default()
	}
	logging.SetDefault(logger)
	return logger
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[2:])

	client := dial(*cfgPath)
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fatal("Error: %v", err)
	}

	lockState := "unlocked"
	if status.Locked {
		lockState = "LOCKED"
	}
	fmt.Printf("expandd %s (pid %d)\n", status.Version, status.PID)
	fmt.Printf("  Uptime:      %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Printf("  Keyboard:    %s\n", lockState)
	fmt.Printf("  Snippets:    %d\n", status.SnippetCount)
	fmt.Printf("  Expansions:  %d\n", status.ExpansionCount)
	fmt.Printf("  Hook:        %s\n", status.HookBackend)
	fmt.Printf("  Hotkeys:     %s\n", status.HotkeyBackend)
}

func cmdLock(lock bool) {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[2:])

	client := dial(*cfgPath)
	defer client.Close()

	var (
		resp *ipc.LockResponse
		err  error
	)
	if lock {
		resp, err = client.Lock()
	} else {
		resp, err = client.Unlock()
	}
	if err != nil {
		fatal("Error: %v", err)
	}
	if resp.Locked {
		fmt.Println("Keyboard locked.")
	} else {
		fmt.Println("Keyboard unlocked.")
	}
}

func cmdReload() {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[2:])

	client := dial(*cfgPath)
	defer client.Close()

	result, err := client.Reload()
	if err != nil {
		fatal("Error: %v", err)
	}
	fmt.Printf("Reloaded: %d snippets, %d hotkeys.\n",
		result.SnippetCount, result.BindingCount)
}

func cmdSnippets() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: expandd snippets <list|export|import> [options]")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "list":
		snippetsList()
	case "export":
		snippetsExport()
	case "import":
		snippetsImport()
	default:
		fmt.Fprintf(os.Stderr, "Unknown snippets command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func snippetsList() {
	fs := flag.NewFlagSet("snippets list", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[3:])

	client := dial(*cfgPath)
	defer client.Close()

	snippets, err := client.ListSnippets()
	if err != nil {
		fatal("Error: %v", err)
	}
	if len(snippets) == 0 {
		fmt.Println("No snippets registered.")
		return
	}
	fmt.Printf("%-20s %-20s %s\n", "TRIGGER", "ID", "LENGTH")
	for _, sn := range snippets {
		fmt.Printf("%-20s %-20s %d\n", sn.Trigger, sn.ID, sn.ContentLen)
	}
}

// snippetsExport reads the snippet file directly so it works without a
// running daemon.
func snippetsExport() {
	fs := flag.NewFlagSet("snippets export", flag.ExitOnError)
	cfgPath := configPath(fs)
	format := fs.String("format", "json", "Export format: json or yaml")
	fs.Parse(os.Args[3:])

	reg := loadRegistry(*cfgPath)

	var (
		data []byte
		err  error
	)
	switch *format {
	case "json":
		data, err = snippet.ExportJSON(reg)
	case "yaml":
		data, err = snippet.ExportYAML(reg)
	default:
		fatal("Unknown format: %s", *format)
	}
	if err != nil {
		fatal("Export failed: %v", err)
	}
	os.Stdout.Write(data)
}

func snippetsImport() {
	fs := flag.NewFlagSet("snippets import", flag.ExitOnError)
	cfgPath := configPath(fs)
	fs.Parse(os.Args[3:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: expandd snippets import <file>")
		os.Exit(1)
	}
	inPath := fs.Arg(0)

	data, err := os.ReadFile(inPath)
	if err != nil {
		fatal("Error reading %s: %v", inPath, err)
	}
	imported, err := snippet.Import(inPath, data)
	if err != nil {
		fatal("Import failed: %v", err)
	}

	cfg := loadConfig(*cfgPath)
	reg := snippet.NewRegistry()
	if existing, err := snippet.LoadFile(cfg.Snippets.Path); err == nil {
		reg.Replace(existing)
	}
	var added, skipped int
	for _, sn := range imported {
		if err := reg.Add(sn); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %q: %v\n", sn.Trigger, err)
			skipped++
			continue
		}
		added++
	}
	if err := snippet.SaveFile(cfg.Snippets.Path, reg); err != nil {
		fatal("Error saving snippets: %v", err)
	}

	fmt.Printf("Imported %d snippets (%d skipped) into %s\n", added, skipped, cfg.Snippets.Path)
	fmt.Println("The daemon picks the change up automatically when file watching is on,")
	fmt.Println("otherwise run 'expandd reload'.")
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal("Error loading config: %v", err)
	}
	cfg.ApplyEnvOverrides()
	return cfg
}

func loadRegistry(cfgPath string) *snippet.Registry {
	cfg := loadConfig(cfgPath)
	snippets, err := snippet.LoadFile(cfg.Snippets.Path)
	if err != nil {
		fatal("Error loading snippets: %v", err)
	}
	reg := snippet.NewRegistry()
	if err := reg.Replace(snippets); err != nil {
		fatal("Invalid snippets file: %v", err)
	}
	return reg
}
