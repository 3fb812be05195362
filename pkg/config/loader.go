package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
)

// ErrNotFound indicates no runtime configuration file exists at any of the
// searched locations.
var ErrNotFound = errors.New("config file not found")

// DefaultFileName is the runtime configuration file searched for next to
// the executable and in the working directory.
const DefaultFileName = "hive.toml"

// Load reads and parses the runtime configuration file at path. Environment
// variables in {{.VAR}} form are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)

	slog.Info("Loaded runtime configuration",
		"path", path,
		"mcp_servers", len(cfg.MCP),
		"lsp_servers", len(cfg.LSP))
	return &cfg, nil
}

// LoadDefault searches for the runtime configuration file next to the
// executable and then in the working directory. A missing file yields a
// usable default configuration and ErrNotFound.
func LoadDefault() (*Config, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), DefaultFileName))
	}
	candidates = append(candidates, DefaultFileName)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, ErrNotFound
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}
}

// LoadAgentConfig reads an agent or orchestrator definition file. The
// format is chosen by extension: .toml is TOML, everything else is JSON.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config %s: %w", path, err)
	}
	data = ExpandEnv(data)

	var cfg AgentConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse agent config %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse agent config %s: %w", path, err)
		}
	}

	if err := validateAgentConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid agent config %s: %w", path, err)
	}
	return &cfg, nil
}

func validateAgentConfig(cfg *AgentConfig) error {
	seen := make(map[string]bool, len(cfg.Workers))
	for i, w := range cfg.Workers {
		if w.Role == "" {
			return fmt.Errorf("worker %d: role is required", i)
		}
		if seen[w.Role] {
			return fmt.Errorf("duplicate worker role %q", w.Role)
		}
		seen[w.Role] = true
	}
	return nil
}

// ResolveWorkers returns the worker list with orchestrator-wide defaults
// filled into every field a worker leaves unset. Worker fields win when
// present.
func (a *AgentConfig) ResolveWorkers() ([]WorkerConfig, error) {
	base := WorkerConfig{
		Model:         a.Model,
		ToolsEnabled:  a.Tools.Enabled,
		AgentMode:     a.AgentMode,
		WorkspaceRoot: a.WorkspaceRoot,
		Proxy:         a.Proxy,
		MCPServers:    a.MCPServers,
		LSPServers:    a.LSPServers,
	}
	if base.ToolsEnabled == nil {
		base.ToolsEnabled = DefaultToolSelection()
	}

	resolved := make([]WorkerConfig, 0, len(a.Workers))
	for _, w := range a.Workers {
		merged := base
		if err := mergo.Merge(&merged, w, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("resolve worker %q: %w", w.Role, err)
		}
		// Map-valued overrides replace wholesale rather than merging
		// per key: a worker that names its own servers gets exactly those.
		if w.MCPServers != nil {
			merged.MCPServers = w.MCPServers
		}
		if w.LSPServers != nil {
			merged.LSPServers = w.LSPServers
		}
		resolved = append(resolved, merged)
	}
	return resolved, nil
}
