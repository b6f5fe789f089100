package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/extinit/internal/api"
	"github.com/mattjoyce/extinit/internal/config"
	"github.com/mattjoyce/extinit/internal/doctor"
	"github.com/mattjoyce/extinit/internal/inspect"
	"github.com/mattjoyce/extinit/internal/lock"
	"github.com/mattjoyce/extinit/internal/log"
	"github.com/mattjoyce/extinit/internal/metrics"
	"github.com/mattjoyce/extinit/internal/storage"
	"github.com/mattjoyce/extinit/internal/tui/watch"
)

const redacted = "<redacted>"

// --- NOUN DISPATCHERS ---

func runEntryPointsNoun(args []string) int {
	if len(args) < 1 {
		printEntryPointsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEntryPointsNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printEntryPointsListHelp()
			return 0
		}
		return runEntryPointsList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown entrypoints action: %s\n", action)
		return 1
	}
}

func runCatalogNoun(args []string) int {
	if len(args) < 1 {
		printCatalogNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCatalogNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "sync":
		if hasHelpFlag(actionArgs) {
			printCatalogSyncHelp()
			return 0
		}
		return runCatalogSync(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printCatalogStatusHelp()
			return 0
		}
		return runCatalogStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown catalog action: %s\n", action)
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

	action, actionArgs := args[0], args[1:]
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
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTIONS ---

func runEntryPointsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	group := fs.String("group", "", "Entry point group (default from config)")
	name := fs.String("name", "", "Entry point name (default from config)")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *group == "" {
		*group = cfg.Extensions.Group
	}
	if *name == "" {
		*name = cfg.Extensions.Name
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, toolLogger(cfg, false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close()

	report, err := inspect.BuildReport(ctx, rt.provider, *group, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(report)
	}
	fmt.Print(inspect.RenderReport(report, inspect.NewDefaultTheme()))
	return 0
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	strict := fs.Bool("strict", false, "Exit 2 when any extension failed")
	verbose := fs.Bool("v", false, "Log at the configured level instead of warn")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	logger := toolLogger(cfg, *verbose)

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close()

	in, err := rt.initializer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	res, err := in.InitAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Initialization failed: %v\n", err)
		return 1
	}

	code := 0
	if *strict && len(res.Failed) > 0 {
		code = 2
	}
	if *jsonOut {
		if rc := printJSON(res); rc != 0 {
			return rc
		}
		return code
	}
	fmt.Print(inspect.RenderResult(res, inspect.NewDefaultTheme()))
	return code
}

func runCatalogSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	logger := toolLogger(cfg, false)

	registry, err := discoverDistributions(cfg.PluginRoots, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	catalog, err := storage.OpenCatalog(ctx, cfg.Catalog.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open catalog: %v\n", err)
		return 1
	}
	defer catalog.Close()

	stats, err := catalog.Sync(ctx, registry.All())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(stats)
	}
	fmt.Printf("Catalog %s synced: %d distribution(s), %d entry point(s)\n",
		cfg.Catalog.Path, stats.Distributions, stats.EntryPoints)
	if !cfg.Catalog.Enabled {
		fmt.Println("Note: catalog.enabled is false; init still scans plugin roots.")
	}
	return 0
}

func runCatalogStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if _, err := os.Stat(cfg.Catalog.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Catalog %s not found; run 'extinit catalog sync'\n", cfg.Catalog.Path)
		return 1
	}

	ctx := context.Background()
	catalog, err := storage.OpenCatalog(ctx, cfg.Catalog.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open catalog: %v\n", err)
		return 1
	}
	defer catalog.Close()

	n, err := catalog.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	status := struct {
		Path        string `json:"path"`
		Enabled     bool   `json:"enabled"`
		EntryPoints int    `json:"entry_points"`
	}{cfg.Catalog.Path, cfg.Catalog.Enabled, n}
	if *jsonOut {
		return printJSON(status)
	}
	fmt.Printf("Catalog: %s\nEnabled: %t\nEntry points: %d\n", status.Path, status.Enabled, status.EntryPoints)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dryRun := fs.Bool("dry-run", false, "Show what would be written")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := config.DiscoverConfigPath(*configPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "No configuration file found; pass --config or set "+config.EnvConfig)
		return 1
	}

	report, err := config.Lock(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(report)
	}
	verb := "Locked"
	if *dryRun {
		verb = "Would lock"
	}
	for _, f := range report.Files {
		fmt.Printf("  %s  %s\n", f.Hash, f.Path)
	}
	fmt.Printf("%s %d file(s) across %d manifest(s)\n", verb, len(report.Files), len(report.Manifests))
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		if *jsonOut {
			printJSON(&doctor.Result{
				Valid:  false,
				Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
			})
			return 1
		}
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	registry, err := discoverDistributions(cfg.PluginRoots, toolLogger(cfg, false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	// Accept the path before or after flags.
	var path string
	var flagArgs []string
	for _, arg := range args {
		if path == "" && arg != "" && arg[0] != '-' && (len(flagArgs) == 0 || flagArgs[len(flagArgs)-1] != "--config") {
			path = arg
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if path == "" || fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: extinit config get <path> [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(val)
	}
	fmt.Printf("%v\n", val)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	if cfg.Path != "" {
		fmt.Printf("# source: %s\n", cfg.Path)
	} else {
		fmt.Println("# source: built-in defaults")
	}
	fmt.Print(string(data))
	return 0
}

func redactSecrets(cfg *config.Config) {
	if cfg.API.Token != "" {
		cfg.API.Token = redacted
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("extinit starting", "version", version, "config", cfg.Path)

	lockPath := pidLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log.Get())
	if err != nil {
		logger.Error("failed to prepare extension runtime", "error", err)
		return 1
	}
	defer rt.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(promRegistry)
	hub := api.NewEventHub(256)

	in, err := rt.initializer(collector, hub)
	if err != nil {
		logger.Error("failed to prepare extension runtime", "error", err)
		return 1
	}
	server := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Token,
		Group:  cfg.Extensions.Group,
		Name:   cfg.Extensions.Name,
	}, in, collector, hub, log.WithComponent("api"))

	res, err := in.InitAll(ctx)
	if err != nil {
		// Discovery failures leave the initializer retryable via POST /init.
		logger.Error("extension initialization failed", "error", err)
	} else {
		server.RecordResult(res)
		logger.Info("extensions initialized",
			"run_id", res.RunID, "loaded", len(res.Loaded), "failed", len(res.Failed), "duration", res.Duration)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("extinit running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("extinit stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8089", "Server URL")
	token := fs.String("token", os.Getenv("EXTINIT_API_TOKEN"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: extinit watch [--api-url URL] [--token TOKEN]")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
