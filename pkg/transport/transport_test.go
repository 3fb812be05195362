package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/jsonrpc"
)

// startShell launches sh -c script as the child process.
func startShell(t *testing.T, script string, opts Options) *Transport {
	t.Helper()
	opts.Command = "sh"
	opts.Args = []string{"-c", script}
	tr, err := Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestCallMCP(t *testing.T) {
	// The child reads one request line and answers it.
	tr := startShell(t,
		`read line; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'`,
		Options{Framing: jsonrpc.FramingMCP})

	resp, err := tr.Call(context.Background(), "tools/list", nil, 5*time.Second)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var result struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.UnmarshalResult(&result))
	assert.True(t, result.OK)
}

func TestCallLSP(t *testing.T) {
	tr := startShell(t,
		`read line; printf 'Content-Length: 38\r\n\r\n{"jsonrpc":"2.0","id":1,"result":null}'`,
		Options{Framing: jsonrpc.FramingLSP})

	resp, err := tr.Call(context.Background(), "checkStatus", map[string]any{"localChecksOnly": true}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *resp.ID)
}

func TestCallTimeout(t *testing.T) {
	tr := startShell(t, `sleep 30`, Options{Framing: jsonrpc.FramingMCP})

	_, err := tr.Call(context.Background(), "tools/call", nil, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response")
}

func TestCallFailsWhenChildExits(t *testing.T) {
	// Child exits without answering: the pending call must unblock with
	// ErrClosed rather than wait out its timeout.
	tr := startShell(t, `read line; exit 0`, Options{Framing: jsonrpc.FramingMCP})

	start := time.Now()
	_, err := tr.Call(context.Background(), "initialize", nil, 30*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNotificationRouting(t *testing.T) {
	got := make(chan *jsonrpc.Message, 1)
	tr := startShell(t,
		`printf '%s\n' '{"jsonrpc":"2.0","method":"$/progress","params":{"token":"t1"}}'; sleep 30`,
		Options{
			Framing:        jsonrpc.FramingMCP,
			OnNotification: func(m *jsonrpc.Message) { got <- m },
		})
	defer tr.Close()

	select {
	case msg := <-got:
		assert.Equal(t, "$/progress", msg.Method)
		assert.Equal(t, jsonrpc.KindNotification, msg.Kind())
	case <-time.After(5 * time.Second):
		t.Fatal("notification was not routed")
	}
}

func TestServerRequestRouting(t *testing.T) {
	tr := startShell(t,
		`printf '%s\n' '{"jsonrpc":"2.0","id":42,"method":"copilot/watchedFiles","params":{}}'; read line; sleep 30`,
		Options{Framing: jsonrpc.FramingMCP})
	defer tr.Close()

	select {
	case req := <-tr.Requests():
		assert.Equal(t, jsonrpc.KindRequest, req.Kind())
		assert.Equal(t, "copilot/watchedFiles", req.Method)
		require.NoError(t, tr.Respond(*req.ID, map[string]any{"watchedFiles": []any{}}))
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not routed")
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	tr := startShell(t, `cat >/dev/null; sleep 1`, Options{Framing: jsonrpc.FramingMCP})

	seen := make(map[int64]bool)
	for i := 0; i < 20; i++ {
		id := tr.nextID.Add(1)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	tr := startShell(t, `sleep 30`, Options{Framing: jsonrpc.FramingMCP})
	require.NoError(t, tr.Close())

	err := tr.Notify("textDocument/didOpen", map[string]any{"uri": "file:///x"})
	assert.ErrorIs(t, err, ErrClosed)
}
