// Package transport owns one child process speaking framed JSON-RPC over
// stdio: a single reader goroutine decodes frames and routes them, writes
// are serialised by a mutex, and responses are correlated to callers
// through a pending-request map of per-id channels.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenthive/hive/pkg/jsonrpc"
)

// DefaultRequestTimeout bounds Call when the caller passes no timeout.
const DefaultRequestTimeout = 120 * time.Second

// ErrClosed indicates the child process exited (or Close was called) while
// an operation was in flight. All pending callers observe this error.
var ErrClosed = errors.New("transport closed")

// Options configures a child-process transport.
type Options struct {
	Command string
	Args    []string
	Env     map[string]string // merged over the parent environment
	Dir     string
	Framing jsonrpc.Framing

	// StderrTag, when non-empty, forwards child stderr lines to the logger
	// with this tag. When empty stderr is drained and discarded. Draining
	// is unconditional: a full stderr pipe would deadlock the child.
	StderrTag string

	// OnNotification, when set, is invoked from the reader goroutine for
	// every notification frame. It must not block and must not write to
	// the transport.
	OnNotification func(*jsonrpc.Message)

	Logger *slog.Logger
}

// Transport is a live child process with framed JSON-RPC on stdio.
type Transport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	framing jsonrpc.Framing
	logger  *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpc.Message
	nextID    atomic.Int64

	requests chan *jsonrpc.Message // server→client requests
	notify   func(*jsonrpc.Message)

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	closeMu   sync.Mutex
}

// Start spawns the child process and begins the reader and stderr-drain
// goroutines.
func Start(opts Options) (*Transport, error) {
	if opts.Command == "" {
		return nil, errors.New("transport: command is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}

	t := &Transport{
		cmd:      cmd,
		stdin:    stdin,
		framing:  opts.Framing,
		logger:   logger.With("command", opts.Command, "framing", opts.Framing.String()),
		pending:  make(map[int64]chan *jsonrpc.Message),
		requests: make(chan *jsonrpc.Message, 64),
		notify:   opts.OnNotification,
		closed:   make(chan struct{}),
	}

	go t.readLoop(stdout)
	go t.drainStderr(stderr, opts.StderrTag)
	return t, nil
}

// Requests returns the queue of server-initiated requests. The owner must
// drain it and answer each request via Respond.
func (t *Transport) Requests() <-chan *jsonrpc.Message { return t.requests }

// Done is closed when the child exits or Close is called.
func (t *Transport) Done() <-chan struct{} { return t.closed }

// Call sends a request and waits for its response. A timeout of zero means
// DefaultRequestTimeout. Returns ErrClosed if the child exits first; a
// timed-out request never leaks its id from the pending map.
func (t *Transport) Call(ctx context.Context, method string, params any, timeout time.Duration) (*jsonrpc.Message, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	id := t.nextID.Add(1)
	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan *jsonrpc.Message, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("no response for request %d (%s) after %s", id, method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, fmt.Errorf("request %d (%s): %w", id, method, ErrClosed)
	}
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(method string, params any) error {
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	return t.write(msg)
}

// Respond answers a server-initiated request.
func (t *Transport) Respond(id int64, result any) error {
	msg, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		return fmt.Errorf("encode response %d: %w", id, err)
	}
	return t.write(msg)
}

// RespondError answers a server-initiated request with a JSON-RPC error.
func (t *Transport) RespondError(id int64, code int, message string) error {
	return t.write(jsonrpc.NewErrorResponse(id, code, message))
}

// Close shuts the child down: stdin is closed first so well-behaved
// servers exit on EOF, then the process is killed if still alive.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.markClosed(ErrClosed)
	t.writeMu.Lock()
	_ = t.stdin.Close()
	t.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = t.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}
	return nil
}

// Err returns the error that closed the transport, or nil while it is
// still running.
func (t *Transport) Err() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closeErr
}

func (t *Transport) write(msg *jsonrpc.Message) error {
	var frame []byte
	var err error
	if t.framing == jsonrpc.FramingMCP {
		frame, err = jsonrpc.EncodeMCP(msg)
	} else {
		frame, err = jsonrpc.EncodeLSP(msg)
	}
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if _, err := t.stdin.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop decodes frames from child stdout and routes them until EOF.
func (t *Transport) readLoop(stdout io.Reader) {
	decoder := jsonrpc.NewDecoder(t.framing)
	buf := make([]byte, 16*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				msg, derr := decoder.Next()
				if derr != nil {
					t.logger.Warn("Dropping undecodable frame", "error", derr)
					continue
				}
				if msg == nil {
					break
				}
				t.route(msg)
			}
		}
		if err != nil {
			t.markClosed(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
	}
}

func (t *Transport) route(msg *jsonrpc.Message) {
	switch msg.Kind() {
	case jsonrpc.KindResponse:
		t.pendingMu.Lock()
		ch, ok := t.pending[*msg.ID]
		t.pendingMu.Unlock()
		if !ok {
			// Response to a timed-out or unknown request.
			t.logger.Debug("Discarding unmatched response", "id", *msg.ID)
			return
		}
		ch <- msg
	case jsonrpc.KindRequest:
		select {
		case t.requests <- msg:
		case <-t.closed:
		}
	case jsonrpc.KindNotification:
		if t.notify != nil {
			t.notify(msg)
		}
	}
}

func (t *Transport) drainStderr(stderr io.Reader, tag string) {
	if tag == "" {
		_, _ = io.Copy(io.Discard, stderr)
		return
	}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("Child stderr", "tag", tag, "line", line)
		}
	}
}

func (t *Transport) markClosed(err error) {
	t.closeOnce.Do(func() {
		t.closeMu.Lock()
		t.closeErr = err
		t.closeMu.Unlock()
		close(t.closed)
	})
}
