package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/internal/engine"
	"github.com/btnflow/btnflow/internal/logging"
	"github.com/btnflow/btnflow/internal/plugins"
	"github.com/btnflow/btnflow/internal/store"
	"github.com/btnflow/btnflow/internal/validation"
	"github.com/btnflow/btnflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "validate":
		validateCmd(os.Args[2:])
	case "import":
		importCmd(os.Args[2:])
	case "actions":
		actionsCmd(os.Args[2:])
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `btnflow - chat-button workflow engine

Usage:
  btnflow run      [-file wf.json | -id workflow-id] [flags]   execute a workflow
  btnflow validate [-file wf.json | -id workflow-id]           check a workflow graph
  btnflow import   -file wf.json                               store a workflow
  btnflow actions                                              list available actions
  btnflow version

Run flags:
  -runtime JSON    interaction metadata (chat_id, user_id, ...)
  -vars JSON       initial variables
  -button-id ID    triggering button loaded from the store
  -menu-id ID      triggering menu loaded from the store
  -preview         dry run: no outward side effects
  -save            persist the run result

Configuration layers: defaults, ~/.btnflow/settings.json, BTNFLOW_* env vars.
`)
}

// app bundles the wired components behind every subcommand.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	manager  *plugins.Manager
	reloader *plugins.Reloader
}

func setup(ctx context.Context) (*app, error) {
	cfg := loadConfig()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(logging.NewCorrelationHandler(inner))

	var st store.Store
	if cfg.DBPath == ":memory:" {
		st = store.NewMemoryStore()
	} else {
		ls, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := ls.Migrate(ctx); err != nil {
			ls.Close()
			return nil, err
		}
		st = ls
	}

	httpCfg := actions.HTTPConfig{
		DefaultTimeout: cfg.httpTimeout(),
		MaxRetries:     cfg.HTTPRetries,
	}
	providers := make([]plugins.Provider, 0, len(cfg.MCPProviders))
	for _, mc := range cfg.MCPProviders {
		providers = append(providers, plugins.NewMCPProvider(mc))
	}

	manager := plugins.NewManager(st, httpCfg, logger, providers...)
	if err := manager.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, manager: manager}
	if cfg.ReloadCron != "" {
		rel, err := plugins.NewReloader(manager, cfg.ReloadCron, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		rel.Start()
		a.reloader = rel
	}
	return a, nil
}

func (a *app) close() {
	if a.reloader != nil {
		a.reloader.Stop()
	}
	if err := a.manager.Close(); err != nil {
		a.logger.Warn("closing plugin manager", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// loadGraph reads a workflow graph from a file or the store; exactly one of
// the two sources must be given.
func (a *app) loadGraph(ctx context.Context, file, id string) (*schema.WorkflowGraph, error) {
	switch {
	case file != "" && id != "":
		return nil, fmt.Errorf("-file and -id are mutually exclusive")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var g schema.WorkflowGraph
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return &g, nil
	case id != "":
		return a.store.GetWorkflow(ctx, id)
	default:
		return nil, fmt.Errorf("either -file or -id is required")
	}
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "workflow graph JSON file")
	id := fs.String("id", "", "workflow ID in the store")
	runtimeJSON := fs.String("runtime", "", "runtime scope as JSON")
	varsJSON := fs.String("vars", "", "initial variables as JSON")
	buttonID := fs.String("button-id", "", "triggering button ID")
	menuID := fs.String("menu-id", "", "triggering menu ID")
	preview := fs.Bool("preview", false, "dry run without side effects")
	save := fs.Bool("save", false, "persist the run result")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall run deadline")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	graph, err := a.loadGraph(ctx, *file, *id)
	if err != nil {
		fatal(err)
	}

	trigger := schema.Trigger{WorkflowID: graph.ID, Preview: *preview}
	if err := decodeJSONFlag(*runtimeJSON, &trigger.Runtime); err != nil {
		fatal(fmt.Errorf("-runtime: %w", err))
	}
	if err := decodeJSONFlag(*varsJSON, &trigger.Variables); err != nil {
		fatal(fmt.Errorf("-vars: %w", err))
	}
	if *buttonID != "" {
		btn, err := a.store.GetButton(ctx, *buttonID)
		if err != nil {
			fatal(err)
		}
		trigger.Button = btn.AsScope()
	}
	if *menuID != "" {
		menu, err := a.store.GetMenu(ctx, *menuID)
		if err != nil {
			fatal(err)
		}
		trigger.Menu = menu.AsScope()
	}

	runner, err := engine.NewRunner(a.manager, engine.RunnerConfig{
		Parallelism: a.cfg.Parallelism,
		NodeTimeout: a.cfg.nodeTimeout(),
	}, a.logger)
	if err != nil {
		fatal(err)
	}

	result, err := runner.Run(ctx, graph, trigger)
	if err != nil {
		fatal(err)
	}

	if *save {
		if err := a.store.SaveRun(ctx, result); err != nil {
			a.logger.Warn("saving run result", "error", err)
		}
	}

	printJSON(result)
	if !result.Success {
		os.Exit(1)
	}
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("file", "", "workflow graph JSON file")
	id := fs.String("id", "", "workflow ID in the store")
	fs.Parse(args)

	ctx := context.Background()
	a, err := setup(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	graph, err := a.loadGraph(ctx, *file, *id)
	if err != nil {
		fatal(err)
	}

	v, err := validation.NewWorkflowValidator(a.manager.Registry())
	if err != nil {
		fatal(err)
	}

	result := v.Validate(graph)
	printJSON(result)
	if !result.Valid() {
		os.Exit(1)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "workflow graph JSON file")
	force := fs.Bool("force", false, "store even when validation fails")
	fs.Parse(args)

	if *file == "" {
		fatal(fmt.Errorf("-file is required"))
	}

	ctx := context.Background()
	a, err := setup(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	graph, err := a.loadGraph(ctx, *file, "")
	if err != nil {
		fatal(err)
	}
	if graph.ID == "" {
		graph.ID = schema.NewID("wf")
	}

	v, err := validation.NewWorkflowValidator(a.manager.Registry())
	if err != nil {
		fatal(err)
	}
	if result := v.Validate(graph); !result.Valid() && !*force {
		printJSON(result)
		os.Exit(1)
	}

	if err := a.store.PutWorkflow(ctx, graph); err != nil {
		fatal(err)
	}
	fmt.Println(graph.ID)
}

func actionsCmd(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	fs.Parse(args)

	ctx := context.Background()
	a, err := setup(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	printJSON(a.manager.Registry().List())
}

func decodeJSONFlag(raw string, dst *map[string]any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
