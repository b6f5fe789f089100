package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/extinit/internal/config"
	"github.com/mattjoyce/extinit/internal/log"
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

	switch cmd {
	// --- NOUNS ---
	case "entrypoints":
		return runEntryPointsNoun(args)
	case "catalog":
		return runCatalogNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "init":
		if hasHelpFlag(args) {
			printInitHelp()
			return 0
		}
		return runInit(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "doctor":
		if hasHelpFlag(args) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(args)
	case "version", "--version":
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
		fmt.Fprintln(os.Stderr, "Usage: extinit version [--json]")
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

	fmt.Printf("extinit %s\n", info.Version)
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
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
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

// loadConfigForTool resolves the config path the usual way and falls back to
// the built-in defaults when no file is found.
func loadConfigForTool(configPath string) (*config.Config, error) {
	return config.LoadOrDefaults(config.DiscoverConfigPath(configPath))
}

// toolLogger logs to stderr so command output on stdout stays parseable.
func toolLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := "warn"
	if verbose {
		level = cfg.Service.LogLevel
	}
	return log.New(os.Stderr, level, "text").With("component", "cli")
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`extinit - discover and run extension init hooks

Usage:
  extinit <noun> <action> [flags]
  extinit <verb> [flags]

Resources (Nouns):
  entrypoints   Registered extension entry points
  catalog       SQLite entry point catalog
  config        Configuration and integrity

Entry Point Commands:
  entrypoints list    Show the entries init would run, with provenance

Catalog Commands:
  catalog sync        Rebuild the catalog from plugin roots
  catalog status      Show catalog size

Config Commands:
  config lock         Record BLAKE3 checksums for the config tree
  config check        Validate config, distributions and checksums
  config get <path>   Print one config value
  config show         Print the effective config

Verbs:
  init                Run every registered extension once
  serve               Run init then serve the status API
  watch               Live TUI of a running server's extension outcomes
  doctor              Alias for 'config check'
  version             Show version information
  help                Show this help message

Use 'extinit <noun> help' for resource-specific flags.
`)
}

func printEntryPointsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: extinit entrypoints <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printCatalogNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: extinit catalog <action>")
	fmt.Fprintln(w, "Actions: sync, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: extinit config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check, get, show")
}

func printEntryPointsListHelp() {
	fmt.Println("Usage: extinit entrypoints list [--config PATH] [--group G] [--name N] [--json]")
	fmt.Println("List entries for (group, name) in run order. Nothing is loaded.")
}

func printCatalogSyncHelp() {
	fmt.Println("Usage: extinit catalog sync [--config PATH] [--json]")
	fmt.Println("Scan plugin roots and replace the catalog contents.")
}

func printCatalogStatusHelp() {
	fmt.Println("Usage: extinit catalog status [--config PATH] [--json]")
}

func printConfigLockHelp() {
	fmt.Println("Usage: extinit config lock [--config PATH] [--dry-run] [--json]")
	fmt.Println("Write a .checksums manifest for every directory in the config include tree.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: extinit config check [--config PATH] [--json]")
	fmt.Println("Validate configuration, discovered distributions and declared checksums.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  No errors (warnings allowed)")
	fmt.Println("  1  One or more errors")
}

func printConfigGetHelp() {
	fmt.Println("Usage: extinit config get <path> [--config PATH] [--json]")
}

func printConfigShowHelp() {
	fmt.Println("Usage: extinit config show [--config PATH]")
}

func printInitHelp() {
	fmt.Println("Usage: extinit init [--config PATH] [--json] [--strict] [-v]")
	fmt.Println("Load and call every extension registered under the configured pair.")
	fmt.Println("Failures are reported as warnings; --strict exits 2 when any extension failed.")
}

func printWatchHelp() {
	fmt.Println("Usage: extinit watch [--api-url URL] [--token TOKEN]")
	fmt.Println()
	fmt.Println("Live view of a running 'extinit serve': health, per-extension outcomes")
	fmt.Println("and the /events stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Server URL (default: http://127.0.0.1:8089)")
	fmt.Println("  --token TOKEN    API bearer token (or EXTINIT_API_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll extensions")
}

func printServeHelp() {
	fmt.Println("Usage: extinit serve [--config PATH]")
	fmt.Println("Run init once, then serve /healthz, /metrics, /entrypoints, /status, /init and /events.")
}
