// Package mcp is the client-side MCP bridge. It spawns MCP tool server
// subprocesses directly, discovers their tools over newline-delimited
// JSON-RPC, and exposes them under collision-free prefixed names so the
// upstream session can register them as ordinary client tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/jsonrpc"
	"github.com/agenthive/hive/pkg/transport"
	"github.com/agenthive/hive/pkg/version"
)

// ProtocolVersion is the MCP protocol revision this bridge speaks.
const ProtocolVersion = "2024-11-05"

// callTimeout bounds a single tools/call round trip.
const callTimeout = 120 * time.Second

// ToolInfo is one tool as discovered from tools/list. The input schema is
// kept untyped so third-party constructs survive until sanitisation.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Server is one MCP tool server subprocess.
type Server struct {
	name   string
	tr     *transport.Transport
	logger *slog.Logger

	tools []ToolInfo
}

// StartMCPServer spawns the server process and begins routing its frames.
// Stderr is forwarded as log lines so package-manager download progress
// stays visible.
func StartMCPServer(name string, cfg config.MCPServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{name: name, logger: logger.With("mcp_server", name)}

	tr, err := transport.Start(transport.Options{
		Command:   cfg.Command,
		Args:      cfg.Args,
		Env:       cfg.Env,
		Framing:   jsonrpc.FramingMCP,
		StderrTag: name,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("start MCP server %s: %w", name, err)
	}
	s.tr = tr

	// Servers occasionally send requests of their own (sampling, roots);
	// an empty result keeps the conversation moving.
	go func() {
		for req := range tr.Requests() {
			_ = tr.Respond(*req.ID, map[string]any{})
		}
	}()

	return s, nil
}

// Initialize runs the MCP handshake: initialize request followed by the
// notifications/initialized notification.
func (s *Server) Initialize(ctx context.Context) error {
	resp, err := s.tr.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    version.AppName + "-mcp-bridge",
			"version": version.GitCommit,
		},
	}, 60*time.Second)
	if err != nil {
		return fmt.Errorf("initialize MCP server %s: %w", s.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize MCP server %s: %s", s.name, resp.Error.Message)
	}
	return s.tr.Notify("notifications/initialized", map[string]any{})
}

// ListTools discovers the server's tools and caches them.
func (s *Server) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := s.tr.Call(ctx, "tools/list", map[string]any{}, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", s.name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("list tools on %s: %s", s.name, resp.Error.Message)
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("decode tools/list from %s: %w", s.name, err)
	}
	s.tools = result.Tools
	return s.tools, nil
}

// Tools returns the cached tool list from the last ListTools call.
func (s *Server) Tools() []ToolInfo { return s.tools }

// CallTool invokes a tool and returns the raw result object.
func (s *Server) CallTool(ctx context.Context, toolName string, arguments map[string]any) (map[string]any, error) {
	resp, err := s.tr.Call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": arguments,
	}, callTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool %s on %s: %s", toolName, s.name, resp.Error.Message)
	}
	var result map[string]any
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("decode tool result from %s: %w", s.name, err)
	}
	return result, nil
}

// Stop terminates the server process.
func (s *Server) Stop() {
	_ = s.tr.Close()
}
