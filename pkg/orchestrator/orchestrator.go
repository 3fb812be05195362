package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/upstream"
	"github.com/agenthive/hive/pkg/worker"
)

// Transport names for worker dispatch.
const (
	TransportQueue = "queue"
	TransportMCP   = "mcp"
)

// resultExcerptLimit bounds each task result's contribution to the
// summary prompt.
const resultExcerptLimit = 500

// Options configures an orchestrator run.
type Options struct {
	Workers   []config.WorkerConfig
	Transport string // TransportQueue (default) or TransportMCP

	// Base supplies the upstream binary, token store, workspace and model
	// defaults each worker inherits.
	Base upstream.Options

	// WorkerCommand spawns subprocess workers for the MCP transport; the
	// worker config JSON is appended to WorkerArgs.
	WorkerCommand string
	WorkerArgs    []string

	// Pool defaults to the process-wide session pool.
	Pool *session.Pool

	// OnEvent receives human-readable progress lines.
	OnEvent func(string)

	Logger *slog.Logger
}

// RunResult is a completed orchestration: the plan, per-task results in
// task order, and the model-written summary.
type RunResult struct {
	Goal    string       `json:"goal"`
	Tasks   []Task       `json:"tasks"`
	Results []TaskResult `json:"results"`
	Summary string       `json:"summary"`
}

// Orchestrator plans and runs multi-worker goals.
type Orchestrator struct {
	workers   []config.WorkerConfig
	transport string
	base      upstream.Options
	command   string
	args      []string
	pool      *session.Pool
	onEvent   func(string)
	logger    *slog.Logger
}

// New validates the options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Workers) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one worker")
	}
	transport := opts.Transport
	if transport == "" {
		transport = TransportQueue
	}
	if transport != TransportQueue && transport != TransportMCP {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
	if transport == TransportMCP && opts.WorkerCommand == "" {
		return nil, fmt.Errorf("MCP transport needs a worker command")
	}
	pool := opts.Pool
	if pool == nil {
		pool = session.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		workers:   opts.Workers,
		transport: transport,
		base:      opts.Base,
		command:   opts.WorkerCommand,
		args:      opts.WorkerArgs,
		pool:      pool,
		onEvent:   opts.OnEvent,
		logger:    logger,
	}, nil
}

// Run executes the full pipeline: plan the goal over a chat-only
// conversation, dispatch tasks in dependency order, and summarise.
// Worker failures become per-task error results, never a Run error.
func (o *Orchestrator) Run(ctx context.Context, goal string) (*RunResult, error) {
	opts := o.base
	opts.AgentMode = false
	opts.Logger = o.logger
	opts.OnStartup = func(msg string) { emit(o.onEvent, msg) }

	client, err := o.pool.Acquire(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("acquire planning session: %w", err)
	}
	defer o.pool.Release(client)

	conv, ok := client.(worker.Conversation)
	if !ok {
		return nil, fmt.Errorf("pooled client %T does not support conversations", client)
	}
	return o.runWith(ctx, conv, goal)
}

func (o *Orchestrator) runWith(ctx context.Context, conv worker.Conversation, goal string) (*RunResult, error) {
	tasks, conversationID := o.plan(ctx, conv, goal)
	emit(o.onEvent, fmt.Sprintf("Planned %d task(s)", len(tasks)))

	d, cleanup, err := o.newDispatcher(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	results := schedule(ctx, tasks, d)
	summary := o.summarize(ctx, conv, conversationID, results)

	return &RunResult{Goal: goal, Tasks: tasks, Results: results, Summary: summary}, nil
}

// plan asks the model for a task breakdown. Any failure degrades to a
// single task handing the whole goal to the first worker.
func (o *Orchestrator) plan(ctx context.Context, conv worker.Conversation, goal string) ([]Task, string) {
	result, err := conv.CreateConversation(ctx, planningMessage(o.workers, goal), upstream.TurnOptions{
		Model: o.base.Model,
	})
	if err != nil {
		o.logger.Warn("Planning failed, using single-task fallback", "error", err)
		return fallbackPlan(o.workers, goal), ""
	}

	tasks := parsePlan(result.Reply, o.workers)
	if tasks == nil {
		o.logger.Warn("Plan reply had no JSON array, using single-task fallback")
		tasks = fallbackPlan(o.workers, goal)
	}
	return tasks, result.ConversationID
}

// newDispatcher builds the transport-specific dispatcher and its
// teardown.
func (o *Orchestrator) newDispatcher(ctx context.Context) (dispatcher, func(), error) {
	if o.transport == TransportMCP {
		executors := make(map[string]taskExecutor, len(o.workers))
		var started []*worker.MCPWorker
		stopAll := func() {
			for _, w := range started {
				w.Stop()
			}
		}
		for _, cfg := range o.workers {
			// Subprocess workers only see their config JSON, so the
			// orchestrator-wide defaults must be folded in before spawning.
			cfg = o.workerConfig(cfg)
			w, err := worker.StartMCPWorker(ctx, cfg, o.command, o.args, o.logger)
			if err != nil {
				stopAll()
				return nil, nil, fmt.Errorf("start worker %s: %w", cfg.Role, err)
			}
			started = append(started, w)
			executors[cfg.Role] = w
		}
		return &parallelDispatcher{executors: executors, onEvent: o.onEvent, logger: o.logger}, stopAll, nil
	}

	outbox := make(chan worker.Message, 64)
	workers := make(map[string]*worker.QueueWorker, len(o.workers))
	for _, cfg := range o.workers {
		w := worker.NewQueueWorker(cfg, o.base, o.pool, outbox, o.logger)
		w.Start(ctx)
		workers[cfg.Role] = w
	}
	cleanup := func() {
		for _, w := range workers {
			w.Stop()
		}
	}
	return &queueDispatcher{
		workers: workers,
		outbox:  outbox,
		onEvent: o.onEvent,
		logger:  o.logger,
	}, cleanup, nil
}

// workerConfig fills a worker's empty fields from the base options,
// mirroring the override order the queue transport applies per session.
// Per-worker fields always win.
func (o *Orchestrator) workerConfig(cfg config.WorkerConfig) config.WorkerConfig {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = o.base.WorkspaceRoot
	}
	if cfg.Model == "" {
		cfg.Model = o.base.Model
	}
	if len(cfg.ToolsEnabled) == 0 {
		cfg.ToolsEnabled = o.base.ToolSelect
	}
	if cfg.Proxy == nil {
		cfg.Proxy = o.base.Proxy
	}
	if len(cfg.MCPServers) == 0 {
		cfg.MCPServers = o.base.MCPServers
	}
	if len(cfg.LSPServers) == 0 {
		cfg.LSPServers = o.base.LSPServers
	}
	return cfg
}

// summarize asks the planning conversation for a concise wrap-up of the
// task results. Failures are reported in-band, never raised.
func (o *Orchestrator) summarize(ctx context.Context, conv worker.Conversation, conversationID string, results []TaskResult) string {
	message := "All tasks have finished. Results:\n\n" + summaryInput(results) +
		"\n\nWrite a concise summary of what was accomplished and what, if anything, failed."

	var (
		result *upstream.TurnResult
		err    error
	)
	if conversationID == "" {
		result, err = conv.CreateConversation(ctx, message, upstream.TurnOptions{Model: o.base.Model})
	} else {
		result, err = conv.ConversationTurn(ctx, conversationID, message, upstream.TurnOptions{Model: o.base.Model})
	}
	if err != nil {
		return fmt.Sprintf("Summary generation failed: %v", err)
	}
	return result.Reply
}

// summaryInput joins each result's excerpt into the summary prompt.
func summaryInput(results []TaskResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		excerpt := r.Result
		if len(excerpt) > resultExcerptLimit {
			excerpt = excerpt[:resultExcerptLimit]
		}
		lines = append(lines, fmt.Sprintf("Task %d [%s] (%s): %s", r.Index, r.WorkerRole, r.Status, excerpt))
	}
	return strings.Join(lines, "\n")
}

// DefaultWorkers is the coder/reviewer/tester trio used when a goal is
// orchestrated without explicit worker definitions.
func DefaultWorkers() []config.WorkerConfig {
	return []config.WorkerConfig{
		{
			Role: "coder",
			SystemPrompt: "You are a skilled software engineer. Implement the requested " +
				"changes directly in the workspace, keeping edits minimal and focused.",
			ToolsEnabled: config.DefaultToolSelection(),
		},
		{
			Role: "reviewer",
			SystemPrompt: "You are a meticulous code reviewer. Read the relevant files and " +
				"point out bugs, risks and style problems. Do not modify any files.",
			ToolsEnabled: config.ToolSelection{
				"read_file", "grep_search", "search_workspace_symbols",
				"get_errors", "list_code_usages",
				"find_test_files", "get_changed_files", "get_project_setup_info",
			},
		},
		{
			Role: "tester",
			SystemPrompt: "You are a test engineer. Write or extend tests for the changes " +
				"and run them, reporting failures with enough detail to fix them.",
			ToolsEnabled: config.DefaultToolSelection(),
		},
	}
}
