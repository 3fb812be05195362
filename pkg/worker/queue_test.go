package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/upstream"
)

// fakePooledClient satisfies both the pool surface and Conversation.
type fakePooledClient struct {
	fakeConversation
	workspace string
	stops     atomic.Int32
}

func (c *fakePooledClient) WorkspaceRoot() string { return c.workspace }
func (c *fakePooledClient) AgentPrepared() bool   { return true }
func (c *fakePooledClient) PrepareAgentMode(context.Context, func(string)) error {
	return nil
}
func (c *fakePooledClient) Stop() { c.stops.Add(1) }

func fakePool(reply string) (*session.Pool, *fakePooledClient) {
	client := &fakePooledClient{}
	client.reply = reply
	return session.NewPool(func(_ context.Context, opts upstream.Options) (session.Client, error) {
		client.workspace = opts.WorkspaceRoot
		return client, nil
	}), client
}

func awaitMessage(t *testing.T, outbox <-chan Message, kind string) Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-outbox:
			if msg.Kind == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", kind)
		}
	}
}

func TestQueueWorkerExecutesTask(t *testing.T) {
	pool, client := fakePool("task finished")
	outbox := make(chan Message, 16)
	w := NewQueueWorker(config.WorkerConfig{Role: "coder"},
		upstream.Options{WorkspaceRoot: t.TempDir()}, pool, outbox, testLogger())

	w.Start(context.Background())
	defer w.Stop()

	w.Assign(Message{Kind: MsgTaskAssign, TaskID: "t0", Prompt: "write code",
		Context: map[string]any{"hint": "use Go"}})

	result := awaitMessage(t, outbox, MsgTaskResult)
	assert.Equal(t, "t0", result.TaskID)
	assert.Equal(t, "coder", result.WorkerID)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "task finished", result.Result)
	assert.Contains(t, client.lastMessage, "use Go")
}

func TestQueueWorkerForwardsDeltasAsProgress(t *testing.T) {
	pool, _ := fakePool("streamed reply")
	outbox := make(chan Message, 16)
	w := NewQueueWorker(config.WorkerConfig{Role: "coder"},
		upstream.Options{WorkspaceRoot: t.TempDir()}, pool, outbox, testLogger())

	w.Start(context.Background())
	defer w.Stop()

	w.Assign(Message{Kind: MsgTaskAssign, TaskID: "t0", Prompt: "go"})

	progress := awaitMessage(t, outbox, MsgTaskProgress)
	assert.Equal(t, "t0", progress.TaskID)
	assert.Equal(t, "streamed reply", progress.Message)
	awaitMessage(t, outbox, MsgTaskResult)
}

func TestQueueWorkerInitFailure(t *testing.T) {
	pool := session.NewPool(func(context.Context, upstream.Options) (session.Client, error) {
		return nil, errors.New("binary not found")
	})
	outbox := make(chan Message, 16)
	w := NewQueueWorker(config.WorkerConfig{Role: "coder"},
		upstream.Options{WorkspaceRoot: t.TempDir()}, pool, outbox, testLogger())

	w.Start(context.Background())

	result := awaitMessage(t, outbox, MsgTaskResult)
	assert.Equal(t, InitTaskID, result.TaskID)
	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Result, "binary not found")
}

func TestQueueWorkerShutdownReleasesSession(t *testing.T) {
	pool, client := fakePool("ok")
	outbox := make(chan Message, 16)
	w := NewQueueWorker(config.WorkerConfig{Role: "coder"},
		upstream.Options{WorkspaceRoot: t.TempDir()}, pool, outbox, testLogger())

	w.Start(context.Background())
	w.Assign(Message{Kind: MsgTaskAssign, TaskID: "t0", Prompt: "go"})
	awaitMessage(t, outbox, MsgTaskResult)

	w.Stop()
	assert.Equal(t, int32(1), client.stops.Load())
	// Conversation torn down before release.
	assert.Equal(t, 1, client.destroys)

	// A second Stop is a no-op.
	w.Stop()
	assert.Equal(t, int32(1), client.stops.Load())
}

func TestQueueWorkerSessionOptionsOverrides(t *testing.T) {
	agentMode := false
	cfg := config.WorkerConfig{
		Role:          "reviewer",
		Model:         "fast-model",
		WorkspaceRoot: "/ws/override",
		AgentMode:     &agentMode,
		ToolsEnabled:  config.ToolSelection{"read_file"},
	}
	w := NewQueueWorker(cfg, upstream.Options{
		WorkspaceRoot: "/ws/default",
		Model:         "default-model",
		Binary:        "/usr/bin/copilot-ls",
	}, session.NewPool(nil), make(chan Message, 1), testLogger())

	opts := w.sessionOptions()
	assert.Equal(t, "/ws/override", opts.WorkspaceRoot)
	assert.Equal(t, "fast-model", opts.Model)
	assert.Equal(t, "/usr/bin/copilot-ls", opts.Binary)
	assert.False(t, opts.AgentMode)
	assert.Equal(t, config.ToolSelection{"read_file"}, opts.ToolSelect)
}

func TestQueueWorkerStopBeforeTask(t *testing.T) {
	pool, client := fakePool("ok")
	w := NewQueueWorker(config.WorkerConfig{Role: "coder"},
		upstream.Options{WorkspaceRoot: t.TempDir()}, pool, make(chan Message, 16), testLogger())

	w.Start(context.Background())
	w.Stop()
	require.Equal(t, int32(1), client.stops.Load())
	assert.Equal(t, 0, client.destroys)
}
