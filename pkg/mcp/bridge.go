package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/transport"
)

// ToolSchema is a discovered tool in upstream registration form.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolRoute maps a prefixed tool name back to its server and original name.
type toolRoute struct {
	server   string
	toolName string
}

// Bridge manages a set of named MCP servers and exposes their tools under
// prefixed names mcp_{server}_{tool}.
type Bridge struct {
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*Server
	configs map[string]config.MCPServerConfig
	routes  map[string]toolRoute
}

// NewBridge creates an empty bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:  logger.With("component", "mcp_bridge"),
		servers: make(map[string]*Server),
		configs: make(map[string]config.MCPServerConfig),
		routes:  make(map[string]toolRoute),
	}
}

// AddServers records server configurations to start later. Entries without
// a command are skipped: HTTP transports are not supported client-side.
func (b *Bridge) AddServers(servers map[string]config.MCPServerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, cfg := range servers {
		if cfg.Command == "" {
			b.logger.Warn("Skipping MCP server without command", "server", name)
			continue
		}
		b.configs[name] = cfg
	}
}

// StartAll spawns, initialises, and lists tools on every configured server,
// then rebuilds the prefixed-name routing table. A server that fails is
// logged and skipped; the rest keep going. onProgress, when set, is told
// about each server before it starts.
func (b *Bridge) StartAll(ctx context.Context, onProgress func(string)) {
	b.mu.Lock()
	names := make([]string, 0, len(b.configs))
	for name := range b.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	b.mu.Unlock()

	for _, name := range names {
		b.mu.Lock()
		cfg := b.configs[name]
		b.mu.Unlock()

		if onProgress != nil {
			onProgress(fmt.Sprintf("Starting MCP: %s...", name))
		}
		server, err := StartMCPServer(name, cfg, b.logger)
		if err == nil {
			if err = server.Initialize(ctx); err == nil {
				_, err = server.ListTools(ctx)
			}
			if err != nil {
				server.Stop()
			}
		}
		if err != nil {
			b.logger.Warn("MCP server failed", "server", name, "error", err)
			continue
		}
		b.logger.Info("MCP server ready", "server", name, "tools", len(server.Tools()))

		b.mu.Lock()
		b.servers[name] = server
		b.mu.Unlock()
	}

	b.rebuildRoutes()
}

func (b *Bridge) rebuildRoutes() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = make(map[string]toolRoute)
	for name, server := range b.servers {
		for _, tool := range server.Tools() {
			b.routes[PrefixedName(name, tool.Name)] = toolRoute{server: name, toolName: tool.Name}
		}
	}
}

// PrefixedName builds the collision-free registered name of an MCP tool.
func PrefixedName(server, tool string) string {
	return fmt.Sprintf("mcp_%s_%s", server, tool)
}

// ToolSchemas returns every discovered tool in registration form: prefixed
// name, server-tagged description, and a sanitised input schema with a
// guaranteed required list.
func (b *Bridge) ToolSchemas() []ToolSchema {
	b.mu.Lock()
	names := make([]string, 0, len(b.servers))
	for name := range b.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	servers := make([]*Server, 0, len(names))
	for _, name := range names {
		servers = append(servers, b.servers[name])
	}
	b.mu.Unlock()

	var schemas []ToolSchema
	for i, server := range servers {
		name := names[i]
		for _, tool := range server.Tools() {
			inputSchema := tool.InputSchema
			if inputSchema == nil {
				inputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			EnsureRequired(inputSchema)
			SanitizeSchema(inputSchema)

			description := tool.Description
			if description == "" {
				description = tool.Name
			}
			schemas = append(schemas, ToolSchema{
				Name:        PrefixedName(name, tool.Name),
				Description: fmt.Sprintf("[%s] %s", name, description),
				InputSchema: inputSchema,
			})
		}
	}
	return schemas
}

// IsMCPTool reports whether the name routes to a bridged MCP tool.
func (b *Bridge) IsMCPTool(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.routes[name]
	return ok
}

// CallTool invokes a bridged tool by its prefixed name and flattens the
// result content to text. Failures come back as text too: a broken tool
// must never kill the session driving it.
func (b *Bridge) CallTool(ctx context.Context, name string, arguments map[string]any) string {
	b.mu.Lock()
	route, ok := b.routes[name]
	server := b.servers[route.server]
	b.mu.Unlock()

	if !ok {
		return fmt.Sprintf("Unknown MCP tool: %s", name)
	}
	if server == nil {
		return fmt.Sprintf("MCP server '%s' not found", route.server)
	}

	result, err := server.CallTool(ctx, route.toolName, arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "no response") {
			return fmt.Sprintf("MCP tool '%s' timed out", route.toolName)
		}
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Sprintf("MCP tool '%s' error: server exited", route.toolName)
		}
		return fmt.Sprintf("MCP tool '%s' error: %v", route.toolName, err)
	}
	return FlattenContent(result)
}

// FlattenContent joins the text of an MCP tool result's content items.
// Results without any text fall back to their JSON form.
func FlattenContent(result map[string]any) string {
	content, _ := result["content"].([]any)
	var parts []string
	for _, raw := range content {
		switch item := raw.(type) {
		case map[string]any:
			text, _ := item["text"].(string)
			if text == "" {
				text, _ = item["value"].(string)
			}
			if text != "" {
				parts = append(parts, text)
			}
		case string:
			parts = append(parts, item)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// StopAll terminates every running server.
func (b *Bridge) StopAll() {
	b.mu.Lock()
	servers := make([]*Server, 0, len(b.servers))
	for _, server := range b.servers {
		servers = append(servers, server)
	}
	b.servers = make(map[string]*Server)
	b.routes = make(map[string]toolRoute)
	b.mu.Unlock()

	for _, server := range servers {
		server.Stop()
	}
}
