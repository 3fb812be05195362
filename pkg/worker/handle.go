package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agenthive/hive/pkg/config"
)

// workerInitTimeout bounds the subprocess spawn plus MCP handshake; the
// worker starts its upstream session during initialization.
const workerInitTimeout = 120 * time.Second

// MCPWorker is the orchestrator-side handle on a subprocess worker. It
// spawns the worker binary, connects over stdio and drives its
// execute_task tool.
type MCPWorker struct {
	cfg     config.WorkerConfig
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	logger  *slog.Logger
}

// StartMCPWorker spawns command with the worker config JSON appended as
// the final argument and completes the MCP handshake.
func StartMCPWorker(ctx context.Context, cfg config.WorkerConfig, command string, args []string, logger *slog.Logger) (*MCPWorker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", cfg.Role)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode worker config: %w", err)
	}
	cmd := exec.Command(command, append(append([]string{}, args...), string(cfgJSON))...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "hive-orchestrator",
		Version: Version,
	}, nil)

	initCtx, cancel := context.WithTimeout(ctx, workerInitTimeout)
	defer cancel()

	session, err := client.Connect(initCtx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect worker %s: %w", cfg.Role, err)
	}

	logger.Info("Worker subprocess connected", "command", command)
	return &MCPWorker{cfg: cfg, client: client, session: session, logger: logger}, nil
}

// Role returns the worker's role name.
func (w *MCPWorker) Role() string { return w.cfg.Role }

// ExecuteTask calls the worker's execute_task tool. Structured fields
// matching the worker's question schema are merged into the arguments as
// top-level properties, mirroring the tool's published schema.
func (w *MCPWorker) ExecuteTask(ctx context.Context, prompt string, contextData, structured map[string]any) TaskOutcome {
	args := map[string]any{"prompt": prompt}
	if len(contextData) > 0 {
		args["context"] = contextData
	}
	for name, value := range structured {
		args[name] = value
	}

	result, err := w.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "execute_task",
		Arguments: args,
	})
	if err != nil {
		w.logger.Error("execute_task failed", "error", err)
		return TaskOutcome{Status: "error", Error: err.Error(), Worker: w.cfg.Role}
	}
	return parseOutcome(result, w.cfg.Role)
}

// Capabilities fetches the worker's agent card.
func (w *MCPWorker) Capabilities(ctx context.Context) (AgentCard, error) {
	result, err := w.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "get_capabilities",
		Arguments: map[string]any{},
	})
	if err != nil {
		return AgentCard{}, fmt.Errorf("get_capabilities on %s: %w", w.cfg.Role, err)
	}
	var card AgentCard
	if err := json.Unmarshal([]byte(resultText(result)), &card); err != nil {
		return AgentCard{}, fmt.Errorf("decode agent card from %s: %w", w.cfg.Role, err)
	}
	return card, nil
}

// Stop closes the session, which terminates the subprocess; the worker
// releases its upstream session when its stdin closes.
func (w *MCPWorker) Stop() {
	if err := w.session.Close(); err != nil {
		w.logger.Debug("Worker session close failed", "error", err)
	}
}

// parseOutcome decodes the JSON text a worker returns from execute_task.
// Undecodable replies degrade to the raw text with the call's error flag.
func parseOutcome(result *mcpsdk.CallToolResult, role string) TaskOutcome {
	text := resultText(result)

	var outcome TaskOutcome
	if err := json.Unmarshal([]byte(text), &outcome); err == nil && outcome.Status != "" {
		return outcome
	}

	status := "success"
	if result.IsError {
		status = "error"
	}
	return TaskOutcome{Status: status, Reply: text, Worker: role}
}

func resultText(result *mcpsdk.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
