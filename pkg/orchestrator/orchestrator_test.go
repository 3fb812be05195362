package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/upstream"
)

// scriptedConv plays back planner replies in order; the last one repeats.
type scriptedConv struct {
	mu       sync.Mutex
	replies  []string
	messages []string
	err      error
}

func (c *scriptedConv) next() string {
	if len(c.replies) == 0 {
		return ""
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply
}

func (c *scriptedConv) CreateConversation(_ context.Context, message string, _ upstream.TurnOptions) (*upstream.TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.messages = append(c.messages, message)
	return &upstream.TurnResult{ConversationID: "plan-conv", Reply: c.next()}, nil
}

func (c *scriptedConv) ConversationTurn(_ context.Context, conversationID, message string, _ upstream.TurnOptions) (*upstream.TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.messages = append(c.messages, message)
	return &upstream.TurnResult{ConversationID: conversationID, Reply: c.next()}, nil
}

func (c *scriptedConv) DestroyConversation(context.Context, string) error { return nil }

func TestNewValidation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Workers: testWorkers(), Transport: "carrier-pigeon"})
	require.Error(t, err)

	_, err = New(Options{Workers: testWorkers(), Transport: TransportMCP})
	require.Error(t, err)

	o, err := New(Options{Workers: testWorkers(), Pool: nil, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, TransportQueue, o.transport)
}

func TestRunWithQueueTransport(t *testing.T) {
	pool, workerClient := queuePool("task done")
	o, err := New(Options{
		Workers: testWorkers(),
		Base:    upstream.Options{WorkspaceRoot: t.TempDir()},
		Pool:    pool,
		Logger:  testLogger(),
	})
	require.NoError(t, err)

	planner := &scriptedConv{replies: []string{
		`[
			{"worker_role": "coder", "task": "write auth.py", "depends_on": []},
			{"worker_role": "reviewer", "task": "review auth.py", "depends_on": [0]}
		]`,
		"Both tasks completed cleanly.",
	}}

	result, err := o.runWith(context.Background(), planner, "build auth")
	require.NoError(t, err)

	require.Len(t, result.Tasks, 2)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "success", result.Results[0].Status)
	assert.Equal(t, "task done", result.Results[0].Result)
	assert.Equal(t, "success", result.Results[1].Status)
	assert.Equal(t, "Both tasks completed cleanly.", result.Summary)

	// The reviewer's prompt carried the coder's result as shared context.
	workerClient.mu.Lock()
	defer workerClient.mu.Unlock()
	require.Len(t, workerClient.messages, 2)
	assert.Contains(t, workerClient.messages[1], "result_from_coder_task_0")
	assert.Contains(t, workerClient.messages[1], "task done")

	// Planning prompt and summary request both went to the planner.
	assert.Contains(t, planner.messages[0], "Goal: build auth")
	assert.Contains(t, planner.messages[1], "Task 0 [coder] (success)")
}

func TestRunWithPlanFallback(t *testing.T) {
	pool, _ := queuePool("handled it")
	o, err := New(Options{
		Workers: testWorkers(),
		Base:    upstream.Options{WorkspaceRoot: t.TempDir()},
		Pool:    pool,
		Logger:  testLogger(),
	})
	require.NoError(t, err)

	planner := &scriptedConv{replies: []string{
		"I am unable to produce a structured plan.",
		"Summary of the single task.",
	}}

	result, err := o.runWith(context.Background(), planner, "just do it")
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "coder", result.Tasks[0].WorkerRole)
	assert.Equal(t, "just do it", result.Tasks[0].Text)
	assert.Equal(t, "success", result.Results[0].Status)
}

func TestRunWithPlanningErrorStillRuns(t *testing.T) {
	pool, _ := queuePool("done anyway")
	o, err := New(Options{
		Workers: testWorkers(),
		Base:    upstream.Options{WorkspaceRoot: t.TempDir()},
		Pool:    pool,
		Logger:  testLogger(),
	})
	require.NoError(t, err)

	planner := &scriptedConv{err: errors.New("upstream unavailable")}

	result, err := o.runWith(context.Background(), planner, "the goal")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "success", result.Results[0].Status)
	// Summary also failed; reported in-band, not as an error.
	assert.True(t, strings.HasPrefix(result.Summary, "Summary generation failed:"), result.Summary)
}

func TestSummaryInputTruncates(t *testing.T) {
	results := []TaskResult{
		{Index: 0, WorkerRole: "coder", Status: "success", Result: strings.Repeat("a", 600)},
		{Index: 1, WorkerRole: "reviewer", Status: "error", Result: "broke"},
	}
	input := summaryInput(results)
	lines := strings.Split(input, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Task 0 [coder] (success): "+strings.Repeat("a", resultExcerptLimit), lines[0])
	assert.Equal(t, "Task 1 [reviewer] (error): broke", lines[1])
}

func TestWorkerConfigInheritsBase(t *testing.T) {
	proxy := &config.ProxyConfig{URL: "http://proxy:8080"}
	o, err := New(Options{
		Workers: testWorkers(),
		Base: upstream.Options{
			WorkspaceRoot: "/work/project",
			Model:         "gpt-base",
			ToolSelect:    config.ToolSelection{"read_file"},
			Proxy:         proxy,
			MCPServers:    map[string]config.MCPServerConfig{"docs": {Command: "docs-server"}},
			LSPServers:    map[string]config.LSPServerConfig{"go": {Command: "gopls"}},
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	// Empty worker fields inherit every base default.
	inherited := o.workerConfig(config.WorkerConfig{Role: "coder"})
	assert.Equal(t, "/work/project", inherited.WorkspaceRoot)
	assert.Equal(t, "gpt-base", inherited.Model)
	assert.Equal(t, config.ToolSelection{"read_file"}, inherited.ToolsEnabled)
	assert.Equal(t, proxy, inherited.Proxy)
	assert.Contains(t, inherited.MCPServers, "docs")
	assert.Contains(t, inherited.LSPServers, "go")

	// Populated worker fields win over the base.
	own := o.workerConfig(config.WorkerConfig{
		Role:          "reviewer",
		WorkspaceRoot: "/work/other",
		Model:         "gpt-own",
		ToolsEnabled:  config.DefaultToolSelection(),
	})
	assert.Equal(t, "/work/other", own.WorkspaceRoot)
	assert.Equal(t, "gpt-own", own.Model)
	assert.True(t, own.ToolsEnabled.AllowsAll())
}

func TestDefaultWorkers(t *testing.T) {
	workers := DefaultWorkers()
	require.Len(t, workers, 3)
	assert.Equal(t, "coder", workers[0].Role)
	assert.Equal(t, "reviewer", workers[1].Role)
	assert.Equal(t, "tester", workers[2].Role)

	assert.True(t, workers[0].ToolsEnabled.AllowsAll())
	assert.False(t, workers[1].ToolsEnabled.AllowsAll())
	assert.True(t, workers[1].ToolsEnabled.Allows("read_file"))
	assert.False(t, workers[1].ToolsEnabled.Allows("insert_edit_into_file"))

	seen := map[string]bool{}
	for _, w := range workers {
		assert.NotEmpty(t, w.SystemPrompt)
		assert.False(t, seen[w.Role])
		seen[w.Role] = true
	}
}

func TestOrchestratorConfigWorkers(t *testing.T) {
	cfg := config.AgentConfig{
		Name:    "pipeline",
		Workers: testWorkers(),
	}
	require.True(t, cfg.IsOrchestrator())

	o, err := New(Options{Workers: cfg.Workers, Logger: testLogger()})
	require.NoError(t, err)
	assert.Len(t, o.workers, 2)
}
