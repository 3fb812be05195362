package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/upstream"
)

// Message kinds exchanged between the orchestrator and queue workers.
const (
	MsgTaskAssign   = "task_assign"
	MsgTaskResult   = "task_result"
	MsgTaskProgress = "task_progress"
	MsgShutdown     = "shutdown"
)

// InitTaskID marks the synthetic task_result a worker posts when its
// upstream session fails to start.
const InitTaskID = "__init__"

// stopGrace bounds how long Stop waits for the worker loop to drain.
const stopGrace = 10 * time.Second

// Message is one queue-transport envelope. Fields are populated per kind.
type Message struct {
	Kind     string         `json:"kind"`
	TaskID   string         `json:"task_id,omitempty"`
	WorkerID string         `json:"worker_id,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Context  map[string]any `json:"context,omitempty"`

	Status      string         `json:"status,omitempty"`
	Result      string         `json:"result,omitempty"`
	AgentRounds int            `json:"agent_rounds,omitempty"`
	Structured  map[string]any `json:"structured_reply,omitempty"`
	Warnings    []string       `json:"validation_warnings,omitempty"`

	Message string `json:"message,omitempty"`
}

// QueueWorker runs a worker as a goroutine fed by its own inbox. Task
// results and progress go to the shared outbox. One task is processed at
// a time; reply deltas are forwarded as task_progress messages.
type QueueWorker struct {
	cfg    config.WorkerConfig
	base   upstream.Options
	pool   *session.Pool
	logger *slog.Logger

	inbox  chan Message
	outbox chan<- Message
	done   chan struct{}
}

// NewQueueWorker builds a worker around the shared outbox. base supplies
// the upstream binary, token store and defaults the worker config does
// not override.
func NewQueueWorker(cfg config.WorkerConfig, base upstream.Options, pool *session.Pool, outbox chan<- Message, logger *slog.Logger) *QueueWorker {
	if pool == nil {
		pool = session.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueWorker{
		cfg:    cfg,
		base:   base,
		pool:   pool,
		logger: logger.With("worker", cfg.Role),
		inbox:  make(chan Message, 16),
		outbox: outbox,
		done:   make(chan struct{}),
	}
}

// Role returns the worker's role name, used as its WorkerID on the wire.
func (w *QueueWorker) Role() string { return w.cfg.Role }

// Assign posts a task to the worker's inbox.
func (w *QueueWorker) Assign(msg Message) { w.inbox <- msg }

// Start launches the worker loop.
func (w *QueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop posts a shutdown message and waits up to the grace period for the
// loop to exit.
func (w *QueueWorker) Stop() {
	select {
	case w.inbox <- Message{Kind: MsgShutdown}:
	case <-w.done:
		return
	}
	select {
	case <-w.done:
	case <-time.After(stopGrace):
		w.logger.Warn("Worker did not stop within grace period")
	}
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.done)

	opts := w.sessionOptions()
	client, err := w.pool.Acquire(ctx, opts)
	if err != nil {
		w.logger.Error("Upstream session failed", "error", err)
		w.post(Message{
			Kind:     MsgTaskResult,
			TaskID:   InitTaskID,
			WorkerID: w.cfg.Role,
			Status:   "error",
			Result:   err.Error(),
		})
		return
	}
	defer w.pool.Release(client)

	conv, ok := client.(Conversation)
	if !ok {
		w.logger.Error("Pooled client does not support conversations")
		w.post(Message{
			Kind:     MsgTaskResult,
			TaskID:   InitTaskID,
			WorkerID: w.cfg.Role,
			Status:   "error",
			Result:   "pooled client does not support conversations",
		})
		return
	}
	runner := NewRunner(w.cfg, conv, w.logger)
	defer runner.Close(context.Background())

	for {
		select {
		case msg := <-w.inbox:
			switch msg.Kind {
			case MsgShutdown:
				return
			case MsgTaskAssign:
				w.handleTask(ctx, runner, msg)
			default:
				w.logger.Warn("Unexpected inbox message", "kind", msg.Kind)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *QueueWorker) handleTask(ctx context.Context, runner *Runner, msg Message) {
	onProgress := func(kind string, payload any) {
		if kind != upstream.ProgressDelta {
			return
		}
		delta, _ := payload.(string)
		if delta == "" {
			return
		}
		w.post(Message{
			Kind:     MsgTaskProgress,
			TaskID:   msg.TaskID,
			WorkerID: w.cfg.Role,
			Message:  delta,
		})
	}

	outcome := runner.ExecuteTask(ctx, msg.Prompt, msg.Context, nil, onProgress)

	result := Message{
		Kind:        MsgTaskResult,
		TaskID:      msg.TaskID,
		WorkerID:    w.cfg.Role,
		Status:      outcome.Status,
		Result:      outcome.Reply,
		AgentRounds: outcome.AgentRoundsCount,
		Structured:  outcome.StructuredReply,
		Warnings:    outcome.ValidationWarnings,
	}
	if outcome.Status == "error" {
		result.Result = outcome.Error
	}
	w.post(result)
}

func (w *QueueWorker) post(msg Message) {
	w.outbox <- msg
}

func (w *QueueWorker) sessionOptions() upstream.Options {
	opts := w.base
	if w.cfg.WorkspaceRoot != "" {
		opts.WorkspaceRoot = w.cfg.WorkspaceRoot
	}
	if w.cfg.Model != "" {
		opts.Model = w.cfg.Model
	}
	if len(w.cfg.ToolsEnabled) > 0 {
		opts.ToolSelect = w.cfg.ToolsEnabled
	}
	if w.cfg.Proxy != nil {
		opts.Proxy = w.cfg.Proxy
	}
	if len(w.cfg.MCPServers) > 0 {
		opts.MCPServers = w.cfg.MCPServers
	}
	if len(w.cfg.LSPServers) > 0 {
		opts.LSPServers = w.cfg.LSPServers
	}
	opts.AgentMode = w.cfg.AgentModeEnabled()
	opts.Logger = w.logger
	return opts
}
