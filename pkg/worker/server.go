package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/upstream"
)

// ServeOptions configures one subprocess worker.
type ServeOptions struct {
	Config      config.WorkerConfig
	UpstreamBin string
	AppsJSON    string

	// Pool defaults to the process-wide session pool.
	Pool *session.Pool

	// Logger must write to stderr; stdout carries the MCP channel.
	Logger *slog.Logger
}

// Serve runs the worker as an MCP server on stdin/stdout until stdin
// closes. It acquires a pooled upstream session, exposes execute_task,
// get_status and get_capabilities, and on shutdown destroys the active
// conversation and releases the session.
func Serve(ctx context.Context, opts ServeOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", opts.Config.Role)

	pool := opts.Pool
	if pool == nil {
		pool = session.Default()
	}

	client, err := pool.Acquire(ctx, upstreamOptions(opts, logger))
	if err != nil {
		return fmt.Errorf("acquire upstream session: %w", err)
	}
	defer pool.Release(client)

	conv, ok := client.(Conversation)
	if !ok {
		return fmt.Errorf("pooled client %T does not support conversations", client)
	}
	runner := NewRunner(opts.Config, conv, logger)
	defer runner.Close(context.Background())

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName(opts.Config.Role),
		Version: Version,
	}, nil)
	addAgentTools(server, opts.Config, runner, logger)

	logger.Info("Worker serving on stdio", "role", opts.Config.Role)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func upstreamOptions(opts ServeOptions, logger *slog.Logger) upstream.Options {
	cfg := opts.Config
	workspace := cfg.WorkspaceRoot
	if workspace == "" {
		workspace = "."
	}
	return upstream.Options{
		WorkspaceRoot: workspace,
		Binary:        opts.UpstreamBin,
		AppsJSON:      opts.AppsJSON,
		Model:         cfg.Model,
		AgentMode:     cfg.AgentModeEnabled(),
		ToolSelect:    cfg.ToolsEnabled,
		Proxy:         cfg.Proxy,
		MCPServers:    cfg.MCPServers,
		LSPServers:    cfg.LSPServers,
		OnStartup:     func(msg string) { logger.Info(msg) },
		Logger:        logger,
	}
}

// addAgentTools registers the worker's three tools. The execute_task
// input schema is extended with the question schema's fields so the
// driving model sees the typed contract directly.
func addAgentTools(server *mcpsdk.Server, cfg config.WorkerConfig, runner *Runner, logger *slog.Logger) {
	server.AddTool(&mcpsdk.Tool{
		Name:        "execute_task",
		Description: executeTaskDescription(cfg),
		InputSchema: executeTaskSchema(cfg),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		prompt, contextData, structured := SplitArguments(cfg.QuestionSchema, args)
		logger.Info("Executing task", "prompt_len", len(prompt), "context_keys", len(contextData))

		outcome := runner.ExecuteTask(ctx, prompt, contextData, structured, nil)
		return outcomeResult(outcome), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "get_status",
		Description: "Report the worker's current status.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return jsonResult(map[string]any{
			"status":              "ready",
			"worker":              cfg.Role,
			"conversation_active": runner.ConversationID() != "",
		}), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "get_capabilities",
		Description: "Describe this agent: role, model, tools and schemas.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return jsonResult(NewAgentCard(cfg)), nil
	})
}

// executeTaskSchema merges the base prompt/context properties with the
// worker's question schema fields.
func executeTaskSchema(cfg config.WorkerConfig) json.RawMessage {
	properties := map[string]any{
		"prompt": map[string]any{
			"type":        "string",
			"description": "The task to perform",
		},
		"context": map[string]any{
			"type":        "object",
			"description": "Shared context from upstream tasks",
		},
	}
	required := []string{"prompt"}

	if len(cfg.QuestionSchema) > 0 {
		question := cfg.QuestionSchema.ToJSONSchema()
		if props, ok := question["properties"].(map[string]any); ok {
			for name, prop := range props {
				properties[name] = prop
			}
		}
		if req, ok := question["required"].([]string); ok {
			required = append(required, req...)
		}
	}

	raw, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func executeTaskDescription(cfg config.WorkerConfig) string {
	desc := fmt.Sprintf("Execute a task with the %q agent.", cfg.Role)
	if len(cfg.AnswerSchema) > 0 {
		desc += "\n\nResults include a structured_reply with:\n" + cfg.AnswerSchema.Describe("Fields")
	}
	return desc
}

func outcomeResult(outcome TaskOutcome) *mcpsdk.CallToolResult {
	result := jsonResult(outcome)
	result.IsError = outcome.Status == "error"
	return result
}

func jsonResult(v any) *mcpsdk.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}
}

func errorResult(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: message}},
		IsError: true,
	}
}
