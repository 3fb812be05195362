package upstream

import (
	"context"
	"encoding/json"

	"github.com/agenthive/hive/pkg/jsonrpc"
	"github.com/agenthive/hive/pkg/tools"
)

// serveRequests drains server-initiated requests for the session lifetime.
// The server issues tool calls sequentially, so handling them one at a
// time preserves its ordering expectations.
func (c *Client) serveRequests() {
	for {
		select {
		case msg := <-c.tr.Requests():
			c.handleServerRequest(msg)
		case <-c.tr.Done():
			return
		}
	}
}

func (c *Client) handleServerRequest(msg *jsonrpc.Message) {
	id := *msg.ID
	switch msg.Method {
	case "conversation/invokeClientToolConfirmation":
		_ = c.tr.Respond(id, []any{map[string]any{"result": "accept"}, nil})

	case "conversation/invokeClientTool":
		var params struct {
			Name      string `json:"name"`
			ToolName  string `json:"toolName"`
			Input     any    `json:"input"`
			Arguments any    `json:"arguments"`
		}
		_ = msg.UnmarshalParams(&params)
		name := params.Name
		if name == "" {
			name = params.ToolName
		}
		input := params.Input
		if input == nil {
			input = params.Arguments
		}
		c.logger.Info("Tool call", "tool", name, "input", previewInput(input))
		_ = c.tr.Respond(id, c.executeClientTool(name, input))

	case "copilot/watchedFiles":
		_ = c.tr.Respond(id, map[string]any{"watchedFiles": []any{}})

	case "window/showMessageRequest":
		var params struct {
			Message string `json:"message"`
		}
		_ = msg.UnmarshalParams(&params)
		c.logger.Info("Server message", "message", params.Message)
		_ = c.tr.Respond(id, nil)

	default:
		c.logger.Warn("Unhandled server request", "method", msg.Method, "id", id)
		_ = c.tr.Respond(id, nil)
	}
}

// executeClientTool dispatches one tool call. Client-side MCP tools take
// precedence over local tools for their prefixed names and already produce
// the tuple shape; local tool results get wrapped.
func (c *Client) executeClientTool(name string, rawInput any) any {
	ctx := context.Background()
	input := tools.ParseInput(rawInput)

	if c.mcpBridge != nil && c.mcpBridge.IsMCPTool(name) {
		text := c.mcpBridge.CallTool(ctx, name, input)
		return []any{
			map[string]any{
				"content": []any{map[string]any{"value": text}},
				"status":  "success",
			},
			nil,
		}
	}

	result := c.registry.Execute(ctx, name, input, c.toolContext())
	return wrapToolResult(result)
}

// wrapToolResult converts a text-item result into the two-element tuple
// the server destructures as [resultObj, error].
func wrapToolResult(result tools.Result) []any {
	content := make([]any, 0, len(result))
	for _, item := range result {
		content = append(content, map[string]any{"value": item.Value})
	}
	return []any{
		map[string]any{"content": content, "status": "success"},
		nil,
	}
}

func (c *Client) toolContext() *tools.Context {
	tc := &tools.Context{
		WorkspaceRoot: c.workspaceRoot,
		SyncFile:      c.SyncFile,
		Logger:        c.logger,
	}
	if c.lspBridge != nil {
		tc.LSP = c.lspBridge
	}
	return tc
}

func previewInput(input any) string {
	raw, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	const max = 150
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
