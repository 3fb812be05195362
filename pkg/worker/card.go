// Package worker implements the two worker kinds that execute orchestrated
// tasks against an upstream session: a subprocess that serves its tasks as
// MCP tools on stdin/stdout, and an in-process worker driven by queues.
// Both share the prompt-assembly and structured-reply contract in Runner.
package worker

import (
	"fmt"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
)

// Version is the worker protocol version reported in agent cards and the
// MCP server implementation info.
const Version = "0.1.0"

// summaryLimit bounds the system-prompt excerpt in an agent card.
const summaryLimit = 200

// AgentCard is the self-descriptor a subprocess worker exposes through its
// get_capabilities tool.
type AgentCard struct {
	Role                string               `json:"role"`
	Name                string               `json:"name"`
	Description         string               `json:"description"`
	Model               string               `json:"model,omitempty"`
	SystemPromptSummary string               `json:"system_prompt_summary,omitempty"`
	ToolsEnabled        config.ToolSelection `json:"tools_enabled,omitempty"`
	QuestionSchema      schema.Schema        `json:"question_schema,omitempty"`
	AnswerSchema        schema.Schema        `json:"answer_schema,omitempty"`
	AgentMode           bool                 `json:"agent_mode"`
	Version             string               `json:"version"`
}

// NewAgentCard builds the card for a worker definition.
func NewAgentCard(cfg config.WorkerConfig) AgentCard {
	summary := cfg.SystemPrompt
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}
	return AgentCard{
		Role:                cfg.Role,
		Name:                serverName(cfg.Role),
		Description:         fmt.Sprintf("Worker agent for role %q", cfg.Role),
		Model:               cfg.Model,
		SystemPromptSummary: summary,
		ToolsEnabled:        cfg.ToolsEnabled,
		QuestionSchema:      cfg.QuestionSchema,
		AnswerSchema:        cfg.AnswerSchema,
		AgentMode:           cfg.AgentModeEnabled(),
		Version:             Version,
	}
}

func serverName(role string) string { return "mcp-agent-" + role }
