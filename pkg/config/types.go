// Package config loads the runtime configuration file (TOML) and agent or
// orchestrator definition files (TOML or JSON), and resolves per-worker
// overrides against orchestrator-wide defaults.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/agenthive/hive/pkg/schema"
)

// AllTools is the sentinel selecting every registered tool.
const AllTools = "__ALL__"

// Config is the runtime configuration file.
type Config struct {
	Workspace    string `toml:"workspace"`
	UpstreamBin  string `toml:"upstream_binary"`
	AppsJSON     string `toml:"apps_json"`
	DefaultModel string `toml:"default_model"`

	Proxy ProxyConfig                `toml:"proxy"`
	MCP   map[string]MCPServerConfig `toml:"mcp"`
	LSP   map[string]LSPServerConfig `toml:"lsp"`
}

// ProxyConfig routes upstream traffic through an HTTP proxy.
type ProxyConfig struct {
	URL         string `toml:"url" json:"url,omitempty"`
	NoSSLVerify bool   `toml:"no_ssl_verify" json:"no_ssl_verify,omitempty"`
}

// MCPServerConfig describes one MCP tool server subprocess.
type MCPServerConfig struct {
	Command string            `toml:"command" json:"command"`
	Args    []string          `toml:"args" json:"args,omitempty"`
	Env     map[string]string `toml:"env" json:"env,omitempty"`
	URL     string            `toml:"url" json:"url,omitempty"`
}

// LSPServerConfig overrides the built-in language server command for one
// language id.
type LSPServerConfig struct {
	Command string   `toml:"command" json:"command"`
	Args    []string `toml:"args" json:"args,omitempty"`
}

// ToolSelection is either the AllTools sentinel or an explicit tool-name
// list. The zero value means "inherit" when used on a worker.
type ToolSelection []string

// DefaultToolSelection allows every tool.
func DefaultToolSelection() ToolSelection { return ToolSelection{AllTools} }

// AllowsAll reports whether the selection contains the AllTools sentinel.
func (s ToolSelection) AllowsAll() bool {
	for _, name := range s {
		if name == AllTools {
			return true
		}
	}
	return false
}

// Allows reports whether the named tool is selected.
func (s ToolSelection) Allows(name string) bool {
	if s.AllowsAll() {
		return true
	}
	for _, n := range s {
		if n == name {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts either the AllTools string or an array of names.
func (s *ToolSelection) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = ToolSelection{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("tools_enabled must be %q or a list of names: %w", AllTools, err)
	}
	*s = ToolSelection(list)
	return nil
}

// UnmarshalTOML accepts either the AllTools string or an array of names.
func (s *ToolSelection) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		*s = ToolSelection{value}
		return nil
	case []any:
		list := make(ToolSelection, 0, len(value))
		for _, item := range value {
			name, ok := item.(string)
			if !ok {
				return fmt.Errorf("tools_enabled entries must be strings, got %T", item)
			}
			list = append(list, name)
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("tools_enabled must be %q or a list of names, got %T", AllTools, v)
	}
}

// WorkerConfig defines one worker agent. Nil pointer or empty fields mean
// "inherit from the orchestrator defaults".
type WorkerConfig struct {
	Role           string                     `toml:"role" json:"role"`
	SystemPrompt   string                     `toml:"system_prompt" json:"system_prompt,omitempty"`
	Model          string                     `toml:"model" json:"model,omitempty"`
	ToolsEnabled   ToolSelection              `toml:"tools_enabled" json:"tools_enabled,omitempty"`
	AgentMode      *bool                      `toml:"agent_mode" json:"agent_mode,omitempty"`
	WorkspaceRoot  string                     `toml:"workspace_root" json:"workspace_root,omitempty"`
	Proxy          *ProxyConfig               `toml:"proxy" json:"proxy,omitempty"`
	MCPServers     map[string]MCPServerConfig `toml:"mcp_servers" json:"mcp_servers,omitempty"`
	LSPServers     map[string]LSPServerConfig `toml:"lsp_servers" json:"lsp_servers,omitempty"`
	QuestionSchema schema.Schema              `toml:"question_schema" json:"question_schema,omitempty"`
	AnswerSchema   schema.Schema              `toml:"answer_schema" json:"answer_schema,omitempty"`
}

// AgentModeEnabled resolves the agent-mode flag, defaulting to true.
func (w WorkerConfig) AgentModeEnabled() bool {
	return w.AgentMode == nil || *w.AgentMode
}

// AgentConfig is a single-agent or orchestrator definition file. A non-empty
// Workers list marks it as an orchestrator config.
type AgentConfig struct {
	Name          string                     `toml:"name" json:"name"`
	Description   string                     `toml:"description" json:"description,omitempty"`
	Model         string                     `toml:"model" json:"model,omitempty"`
	Transport     string                     `toml:"transport" json:"transport,omitempty"`
	AgentMode     *bool                      `toml:"agent_mode" json:"agent_mode,omitempty"`
	SystemPrompt  string                     `toml:"system_prompt" json:"system_prompt,omitempty"`
	WorkspaceRoot string                     `toml:"workspace_root" json:"workspace_root,omitempty"`
	Tools         ToolsConfig                `toml:"tools" json:"tools,omitempty"`
	MCPServers    map[string]MCPServerConfig `toml:"mcp_servers" json:"mcp_servers,omitempty"`
	LSPServers    map[string]LSPServerConfig `toml:"lsp_servers" json:"lsp_servers,omitempty"`
	Proxy         *ProxyConfig               `toml:"proxy" json:"proxy,omitempty"`
	Workers       []WorkerConfig             `toml:"workers" json:"workers,omitempty"`
}

// ToolsConfig wraps the tool selection of an agent definition.
type ToolsConfig struct {
	Enabled ToolSelection `toml:"enabled" json:"enabled,omitempty"`
}

// IsOrchestrator reports whether this definition drives multiple workers.
func (a *AgentConfig) IsOrchestrator() bool { return len(a.Workers) > 0 }
