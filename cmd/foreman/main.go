package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/foreman/internal/api"
	"github.com/mattjoyce/foreman/internal/broadcast"
	"github.com/mattjoyce/foreman/internal/config"
	"github.com/mattjoyce/foreman/internal/control"
	"github.com/mattjoyce/foreman/internal/events"
	"github.com/mattjoyce/foreman/internal/lock"
	"github.com/mattjoyce/foreman/internal/log"
	"github.com/mattjoyce/foreman/internal/state"
	"github.com/mattjoyce/foreman/internal/storage"
	"github.com/mattjoyce/foreman/internal/tui/watch"
	"github.com/mattjoyce/foreman/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "worker":
		return runWorkerNoun(args)
	case "config":
		return runConfigNoun(args)
	case "control":
		return runControl(args)

	// --- ROOT ALIASES ---
	case "start":
		return runWorkerStart(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: foreman version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("foreman %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`foreman - Distributed worker with a remote control channel

Usage:
  foreman <noun> <action> [flags]

Worker Commands:
  worker start      Start a worker process in foreground
  worker status     Show worker status via the admin API
  worker watch      Real-time worker monitoring TUI

Control Commands:
  control <command> Broadcast a control command via the admin API
                    (ping, revoke, shutdown, pool_grow, pool_shrink,
                     stats, active, clock)

Config Commands:
  config lock       Authorize current state (update integrity hashes)
  config check      Validate syntax and integrity

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'foreman <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runWorkerNoun(args []string) int {
	if len(args) < 1 {
		printWorkerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printWorkerStartHelp()
			return 0
		}
		return runWorkerStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printWorkerStatusHelp()
			return 0
		}
		return runWorkerStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printWorkerWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printWorkerNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown worker action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(arg string) bool {
	return arg == "help" || arg == "--help" || arg == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printWorkerNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: foreman worker <action> [flags]

Actions:
  start     Start a worker process in foreground
  status    Show worker status via the admin API
  watch     Real-time worker monitoring TUI
`)
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: foreman config <action> [flags]

Actions:
  lock      Authorize current state (update integrity hashes)
  check     Validate syntax and integrity
`)
}

func printWorkerStartHelp() {
	fmt.Println("Usage: foreman worker start [--config PATH]")
	fmt.Println("Start a worker process in foreground. Ctrl+C or a broadcast")
	fmt.Println("shutdown command stops it.")
}

func printWorkerStatusHelp() {
	fmt.Println("Usage: foreman worker status [--api-url URL] [--api-key KEY]")
	fmt.Println("Show worker status via the admin API.")
}

func printWorkerWatchHelp() {
	fmt.Println("Usage: foreman worker watch [flags]")
	fmt.Println()
	fmt.Println("Real-time worker monitoring TUI.")
	fmt.Println("Shows worker health, control-command activity, and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Worker admin API URL (default: http://localhost:8765)")
	fmt.Println("  --api-key KEY    API Bearer Token (or FOREMAN_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll command activity")
}

func printConfigLockHelp() {
	fmt.Println("Usage: foreman config lock [--config-dir PATH]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: foreman config check [--config-dir PATH]")
	fmt.Println("Validate configuration syntax and integrity.")
}

func printControlHelp() {
	fmt.Println("Usage: foreman control <command> [--arg key=value]... [flags]")
	fmt.Println()
	fmt.Println("Broadcast a control command to listening workers via the admin API.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --arg key=value  Command argument (repeatable)")
	fmt.Println("  --replies N      Wait for N worker replies (default: fire-and-forget)")
	fmt.Println("  --timeout DUR    Reply wait timeout (default: 1s)")
	fmt.Println("  --api-url URL    Worker admin API URL (default: http://localhost:8765)")
	fmt.Println("  --api-key KEY    API Bearer Token (or FOREMAN_API_KEY env var)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  foreman control ping --replies 1")
	fmt.Println("  foreman control revoke --arg task_id=4f7c...")
	fmt.Println("  foreman control pool_grow --arg n=2 --replies 1")
}

// --- ACTION IMPLEMENTATIONS ---

func runWorkerStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "foreman.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Worker.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("foreman starting", "version", version, "config", *configPath, "hostname", cfg.Worker.Hostname)

	lockPath := cfg.State.Path + ".lock"
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	revoked, err := state.NewRevokedStore(ctx, db)
	if err != nil {
		logger.Error("failed to load revoked-task store", "error", err)
		return 1
	}
	if cfg.Worker.RevokedRetention > 0 {
		if pruned, err := revoked.Prune(ctx, cfg.Worker.RevokedRetention); err != nil {
			logger.Warn("failed to prune revoked tasks", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned expired revoked tasks", "count", pruned)
		}
	}

	broker := broadcast.NewBroker()
	defer broker.Close()
	conn, err := broker.Connect()
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		return 1
	}
	defer conn.Close()

	hub := events.NewHub(256)

	w, err := worker.New(worker.Options{
		Hostname:    cfg.Worker.Hostname,
		Connection:  conn,
		Concurrency: cfg.Worker.Concurrency,
		Revoked:     revoked,
		Events:      hub,
	})
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		return 1
	}
	if err := w.Start(); err != nil {
		logger.Error("failed to start worker", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, w, control.NewClient(conn), hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("foreman running (press Ctrl+C to stop)")

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-w.Done():
		logger.Info("shutdown requested via control channel")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
	}

	w.Shutdown()
	cancel()
	logger.Info("foreman stopped")
	return exit
}

func runWorkerStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8765", "Worker admin API URL")
	apiKey := fs.String("api-key", os.Getenv("FOREMAN_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or FOREMAN_API_KEY env var.")
		return 1
	}

	body, err := apiGet(*apiURL+"/v1/status", *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status request failed: %v\n", err)
		return 1
	}
	fmt.Println(string(body))
	return 0
}

func runControl(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printControlHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	command := args[0]

	fs := flag.NewFlagSet("control", flag.ExitOnError)
	var cmdArgs argPairs
	fs.Var(&cmdArgs, "arg", "Command argument as key=value (repeatable)")
	replies := fs.Int("replies", 0, "Wait for N worker replies")
	timeout := fs.Duration("timeout", time.Second, "Reply wait timeout")
	apiURL := fs.String("api-url", "http://localhost:8765", "Worker admin API URL")
	apiKey := fs.String("api-key", os.Getenv("FOREMAN_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or FOREMAN_API_KEY env var.")
		return 1
	}

	payload := map[string]any{}
	if len(cmdArgs.pairs) > 0 {
		payload["arguments"] = cmdArgs.pairs
	}
	if *replies > 0 {
		payload["replies"] = *replies
		payload["timeout_ms"] = int(timeout.Milliseconds())
	}

	body, err := apiPost(*apiURL+"/v1/control/"+command, *apiKey, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Control request failed: %v\n", err)
		return 1
	}
	fmt.Println(string(body))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8765", "Worker admin API URL")
	apiKey := fs.String("api-key", os.Getenv("FOREMAN_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or FOREMAN_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configDir := fs.String("config-dir", ".", "Path to configuration directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if err := config.GenerateChecksums(*configDir, configFiles); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Integrity hashes updated in %s\n", filepath.Join(*configDir, ".checksums"))
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configDir := fs.String("config-dir", ".", "Path to configuration directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	exit := 0

	configPath := filepath.Join(*configDir, "foreman.yaml")
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL syntax: %v\n", err)
		exit = 1
	} else {
		fmt.Println("OK   syntax")
	}

	manifest, err := config.LoadChecksums(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL integrity: %v\n", err)
		return 1
	}
	if err := config.VerifyFiles(*configDir, manifest, configFiles); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL integrity: %v\n", err)
		exit = 1
	} else {
		fmt.Println("OK   integrity")
	}

	return exit
}

// configFiles lists the files covered by the integrity manifest.
var configFiles = []string{"foreman.yaml"}
