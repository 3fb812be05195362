package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
)

func reviewerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Role:         "reviewer",
		SystemPrompt: "You review code carefully.",
		QuestionSchema: schema.Schema{
			"file_path": {Type: "string", Required: true, Description: "File to review"},
		},
		AnswerSchema: schema.Schema{
			"verdict": {Type: "string", Required: true},
			"issues":  {Type: "array"},
		},
	}
}

func TestBuildPromptAllBlocks(t *testing.T) {
	got := BuildPrompt(reviewerConfig(), "Review the auth module.",
		map[string]any{"result_from_coder_task_0": "wrote auth.py"},
		map[string]any{"file_path": "auth.py"},
		true)

	blocks := strings.Split(got, "\n\n")
	require.Len(t, blocks, 5)
	assert.True(t, strings.HasPrefix(blocks[0], "<system_instructions>"))
	assert.Contains(t, blocks[0], "You review code carefully.")
	assert.True(t, strings.HasPrefix(blocks[1], "<shared_context>"))
	assert.Contains(t, blocks[1], "result_from_coder_task_0")
	assert.True(t, strings.HasPrefix(blocks[2], "<structured_input>"))
	assert.Contains(t, blocks[2], "auth.py")
	assert.Equal(t, "Review the auth module.", blocks[3])
	assert.Contains(t, blocks[4], "verdict (string, required)")
}

func TestBuildPromptLaterTurnOmitsSystemInstructions(t *testing.T) {
	got := BuildPrompt(reviewerConfig(), "Next task.", nil, nil, false)
	assert.NotContains(t, got, "<system_instructions>")
	assert.Contains(t, got, "Next task.")
}

func TestBuildPromptMinimal(t *testing.T) {
	cfg := config.WorkerConfig{Role: "coder"}
	got := BuildPrompt(cfg, "Write hello world.", nil, nil, true)
	assert.Equal(t, "Write hello world.", got)
}

func TestBuildPromptStructuredRequiresQuestionSchema(t *testing.T) {
	cfg := config.WorkerConfig{Role: "coder"}
	got := BuildPrompt(cfg, "Task.", nil, map[string]any{"file_path": "x.py"}, true)
	assert.NotContains(t, got, "<structured_input>")
}

func TestSplitArguments(t *testing.T) {
	question := schema.Schema{"file_path": {Type: "string"}}

	tests := []struct {
		name           string
		args           map[string]any
		wantPrompt     string
		wantContext    map[string]any
		wantStructured map[string]any
	}{
		{
			name:       "prompt only",
			args:       map[string]any{"prompt": "do it"},
			wantPrompt: "do it",
		},
		{
			name: "context as object",
			args: map[string]any{
				"prompt":  "do it",
				"context": map[string]any{"key": "value"},
			},
			wantPrompt:  "do it",
			wantContext: map[string]any{"key": "value"},
		},
		{
			name: "context as JSON string",
			args: map[string]any{
				"prompt":  "do it",
				"context": `{"key": "value"}`,
			},
			wantPrompt:  "do it",
			wantContext: map[string]any{"key": "value"},
		},
		{
			name: "schema fields split out",
			args: map[string]any{
				"prompt":    "review",
				"file_path": "auth.py",
				"unrelated": "ignored",
			},
			wantPrompt:     "review",
			wantStructured: map[string]any{"file_path": "auth.py"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, contextData, structured := SplitArguments(question, tt.args)
			assert.Equal(t, tt.wantPrompt, prompt)
			assert.Equal(t, tt.wantContext, contextData)
			assert.Equal(t, tt.wantStructured, structured)
		})
	}
}

func TestNewAgentCard(t *testing.T) {
	cfg := reviewerConfig()
	cfg.SystemPrompt = strings.Repeat("x", 300)

	card := NewAgentCard(cfg)
	assert.Equal(t, "reviewer", card.Role)
	assert.Equal(t, "mcp-agent-reviewer", card.Name)
	assert.Len(t, card.SystemPromptSummary, summaryLimit)
	assert.True(t, card.AgentMode)
	assert.Equal(t, Version, card.Version)
	assert.Len(t, card.AnswerSchema, 2)
}
