package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
	"github.com/agenthive/hive/pkg/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConversation scripts upstream turns without a subprocess.
type fakeConversation struct {
	mu       sync.Mutex
	creates  int
	turns    int
	destroys int

	reply  string
	rounds []upstream.AgentRound
	err    error

	lastMessage string
	lastOpts    upstream.TurnOptions
}

func (f *fakeConversation) CreateConversation(_ context.Context, message string, opts upstream.TurnOptions) (*upstream.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastMessage = message
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(upstream.ProgressDelta, f.reply)
	}
	return &upstream.TurnResult{ConversationID: "conv-1", Reply: f.reply, AgentRounds: f.rounds}, nil
}

func (f *fakeConversation) ConversationTurn(_ context.Context, conversationID, message string, opts upstream.TurnOptions) (*upstream.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns++
	f.lastMessage = message
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.TurnResult{ConversationID: conversationID, Reply: f.reply, AgentRounds: f.rounds}, nil
}

func (f *fakeConversation) DestroyConversation(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

func TestRunnerFirstTurnCreatesThenContinues(t *testing.T) {
	conv := &fakeConversation{reply: "done"}
	runner := NewRunner(config.WorkerConfig{Role: "coder", SystemPrompt: "Be brief."}, conv, testLogger())

	out := runner.ExecuteTask(context.Background(), "task one", nil, nil, nil)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "done", out.Reply)
	assert.Equal(t, "coder", out.Worker)
	assert.Equal(t, "conv-1", runner.ConversationID())
	assert.Contains(t, conv.lastMessage, "<system_instructions>")

	out = runner.ExecuteTask(context.Background(), "task two", nil, nil, nil)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, 1, conv.creates)
	assert.Equal(t, 1, conv.turns)
	assert.NotContains(t, conv.lastMessage, "<system_instructions>")
}

func TestRunnerErrorBecomesOutcome(t *testing.T) {
	conv := &fakeConversation{err: errors.New("upstream gone")}
	runner := NewRunner(config.WorkerConfig{Role: "coder"}, conv, testLogger())

	out := runner.ExecuteTask(context.Background(), "task", nil, nil, nil)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "upstream gone", out.Error)
	assert.Equal(t, "coder", out.Worker)
	assert.Empty(t, runner.ConversationID())
}

func TestRunnerStructuredReply(t *testing.T) {
	conv := &fakeConversation{
		reply: "Here is my verdict:\n```json\n{\"verdict\": \"approve\", \"note\": \"solid\"}\n```",
	}
	cfg := config.WorkerConfig{
		Role: "reviewer",
		AnswerSchema: schema.Schema{
			"verdict":    {Type: "string", Required: true},
			"confidence": {Type: "number", Required: true},
		},
	}
	runner := NewRunner(cfg, conv, testLogger())

	out := runner.ExecuteTask(context.Background(), "review", nil, nil, nil)
	require.Equal(t, "success", out.Status)
	require.NotNil(t, out.StructuredReply)
	assert.Equal(t, "approve", out.StructuredReply["verdict"])
	// Unknown field preserved, missing required field warned about.
	assert.Equal(t, "solid", out.StructuredReply["note"])
	assert.NotEmpty(t, out.ValidationWarnings)
}

func TestRunnerStructuredReplySkippedWithoutJSON(t *testing.T) {
	conv := &fakeConversation{reply: "plain prose, no object here"}
	cfg := config.WorkerConfig{
		Role:         "reviewer",
		AnswerSchema: schema.Schema{"verdict": {Type: "string"}},
	}
	runner := NewRunner(cfg, conv, testLogger())

	out := runner.ExecuteTask(context.Background(), "review", nil, nil, nil)
	assert.Equal(t, "success", out.Status)
	assert.Nil(t, out.StructuredReply)
}

func TestRunnerAgentModeFlagsAndModel(t *testing.T) {
	chatOnly := false
	conv := &fakeConversation{reply: "ok"}
	cfg := config.WorkerConfig{Role: "coder", Model: "gpt-test", AgentMode: &chatOnly}
	runner := NewRunner(cfg, conv, testLogger())

	runner.ExecuteTask(context.Background(), "task", nil, nil, nil)
	assert.Equal(t, "gpt-test", conv.lastOpts.Model)
	assert.False(t, conv.lastOpts.AgentMode)
}

func TestRunnerClose(t *testing.T) {
	conv := &fakeConversation{reply: "ok"}
	runner := NewRunner(config.WorkerConfig{Role: "coder"}, conv, testLogger())

	// Close before any task is a no-op.
	runner.Close(context.Background())
	assert.Equal(t, 0, conv.destroys)

	runner.ExecuteTask(context.Background(), "task", nil, nil, nil)
	runner.Close(context.Background())
	assert.Equal(t, 1, conv.destroys)
	assert.Empty(t, runner.ConversationID())
}
