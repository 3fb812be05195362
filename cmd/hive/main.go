// Hive orchestrator CLI. Plans a goal across worker agents, dispatches
// the tasks over the chosen transport, and prints the aggregated result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/orchestrator"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/upstream"
	"github.com/agenthive/hive/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "Path to the runtime configuration file")
	agentsPath := flag.String("agents", "", "Path to an orchestrator definition file (JSON or TOML)")
	transport := flag.String("transport", orchestrator.TransportQueue, "Worker transport: queue or mcp")
	model := flag.String("model", "", "Model override for all turns")
	workspace := flag.String("workspace", "", "Workspace root override")
	workerBin := flag.String("worker-bin", "hive-worker", "Worker binary for the mcp transport")
	quiet := flag.Bool("quiet", false, "Suppress progress output")
	listModels := flag.Bool("list-models", false, "List the models the upstream account can use and exit")
	mcpAction := flag.String("mcp-action", "", "Apply name:action (start, stop, restart) to a server-side MCP server, print the tool inventory and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	inspecting := *listModels || *mcpAction != ""
	goal := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if goal == "" && !inspecting {
		fmt.Fprintln(os.Stderr, "usage: hive [flags] <goal>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger.Info("Starting orchestrator", "version", version.Full())

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	workers, err := loadWorkers(*agentsPath)
	if err != nil {
		logger.Error("Failed to load worker definitions", "error", err)
		os.Exit(1)
	}

	base := upstream.Options{
		WorkspaceRoot: cfg.Workspace,
		Binary:        cfg.UpstreamBin,
		AppsJSON:      cfg.AppsJSON,
		Model:         cfg.DefaultModel,
		MCPServers:    cfg.MCP,
		LSPServers:    cfg.LSP,
		Logger:        logger,
	}
	if cfg.Proxy.URL != "" {
		base.Proxy = &cfg.Proxy
	}
	if *workspace != "" {
		base.WorkspaceRoot = *workspace
	}
	if *model != "" {
		base.Model = *model
	}

	if inspecting {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		defer session.Reset()
		if err := inspectUpstream(ctx, base, *listModels, *mcpAction); err != nil {
			logger.Error("Inspection failed", "error", err)
			stop()
			session.Reset()
			os.Exit(1)
		}
		return
	}

	onEvent := func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	if *quiet {
		onEvent = nil
	}

	// Subprocess workers load their own runtime config; hand them the same
	// file this process was given.
	var workerArgs []string
	if *configPath != "" {
		workerArgs = append(workerArgs, "-config", *configPath)
	}

	o, err := orchestrator.New(orchestrator.Options{
		Workers:       workers,
		Transport:     *transport,
		Base:          base,
		WorkerCommand: *workerBin,
		WorkerArgs:    workerArgs,
		OnEvent:       onEvent,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("Invalid orchestrator options", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer session.Reset()

	result, err := o.Run(ctx, goal)
	if err != nil {
		logger.Error("Orchestration failed", "error", err)
		os.Exit(1)
	}
	printResult(result)
}

func loadRuntimeConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNotFound) {
		slog.Info("No runtime configuration found, using defaults")
		return cfg, nil
	}
	return cfg, err
}

func loadWorkers(path string) ([]config.WorkerConfig, error) {
	if path == "" {
		return orchestrator.DefaultWorkers(), nil
	}
	agentCfg, err := config.LoadAgentConfig(path)
	if err != nil {
		return nil, err
	}
	if !agentCfg.IsOrchestrator() {
		return nil, fmt.Errorf("%s defines no workers", path)
	}
	return agentCfg.ResolveWorkers()
}

// upstreamInspector is the slice of the pooled client used by the
// diagnostic flags.
type upstreamInspector interface {
	Models(ctx context.Context) (json.RawMessage, error)
	MCPGetTools(ctx context.Context) (json.RawMessage, error)
	MCPServerAction(ctx context.Context, serverName, action string) error
}

// inspectUpstream services -list-models and -mcp-action against a plain
// chat session, printing the upstream's JSON answers to stdout.
func inspectUpstream(ctx context.Context, base upstream.Options, listModels bool, mcpAction string) error {
	base.AgentMode = false
	client, err := session.Default().Acquire(ctx, base)
	if err != nil {
		return fmt.Errorf("acquire upstream session: %w", err)
	}
	defer session.Default().Release(client)

	inspector, ok := client.(upstreamInspector)
	if !ok {
		return fmt.Errorf("pooled client %T does not support inspection", client)
	}

	if listModels {
		models, err := inspector.Models(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		printJSON(models)
	}
	if mcpAction != "" {
		name, action, err := parseMCPAction(mcpAction)
		if err != nil {
			return err
		}
		if err := inspector.MCPServerAction(ctx, name, action); err != nil {
			return fmt.Errorf("%s MCP server %s: %w", action, name, err)
		}
		tools, err := inspector.MCPGetTools(ctx)
		if err != nil {
			return fmt.Errorf("list MCP tools: %w", err)
		}
		printJSON(tools)
	}
	return nil
}

// parseMCPAction splits a -mcp-action value into its server name and
// action, accepting only the actions the upstream understands.
func parseMCPAction(spec string) (name, action string, err error) {
	name, action, ok := strings.Cut(spec, ":")
	if !ok || name == "" || action == "" {
		return "", "", fmt.Errorf("mcp-action must be name:action, got %q", spec)
	}
	switch action {
	case "start", "stop", "restart":
		return name, action, nil
	default:
		return "", "", fmt.Errorf("unknown MCP server action %q", action)
	}
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func printResult(result *orchestrator.RunResult) {
	for _, r := range result.Results {
		fmt.Printf("--- Task %d [%s] %s ---\n", r.Index, r.WorkerRole, r.Status)
		fmt.Println(r.Result)
		fmt.Println()
	}
	fmt.Println("=== Summary ===")
	fmt.Println(result.Summary)
}
