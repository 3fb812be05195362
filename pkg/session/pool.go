// Package session shares upstream sessions across concurrent callers:
// one live upstream subprocess per workspace, handed out with reference
// counting and torn down when the last reference is released.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/agenthive/hive/pkg/upstream"
)

// Client is the pooled session surface. *upstream.Client implements it.
type Client interface {
	WorkspaceRoot() string
	AgentPrepared() bool
	PrepareAgentMode(ctx context.Context, emit func(string)) error
	Stop()
}

// StartFunc performs full upstream startup for a first acquisition.
type StartFunc func(ctx context.Context, opts upstream.Options) (Client, error)

// Pool caches one client per absolute workspace path.
type Pool struct {
	start StartFunc

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	client Client
	refs   int
}

// NewPool builds a pool around the given starter.
func NewPool(start StartFunc) *Pool {
	return &Pool{start: start, entries: make(map[string]*entry)}
}

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Default returns the process-wide pool backed by upstream.Start.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		defaultPool = NewPool(func(ctx context.Context, opts upstream.Options) (Client, error) {
			return upstream.Start(ctx, opts)
		})
	}
	return defaultPool
}

// Reset stops every pooled client and clears the process-wide pool.
// Intended for tests.
func Reset() {
	defaultMu.Lock()
	pool := defaultPool
	defaultPool = nil
	defaultMu.Unlock()
	if pool != nil {
		pool.StopAll()
	}
}

// Acquire returns a client for the workspace, starting one on first use.
// A cached client escalates to agent mode when a new caller demands it.
// Startup runs outside the pool lock; when two callers race, the loser's
// client is stopped and the winner's is shared.
func (p *Pool) Acquire(ctx context.Context, opts upstream.Options) (Client, error) {
	key, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.refs++
		client := e.client
		p.mu.Unlock()

		if opts.AgentMode && !client.AgentPrepared() {
			if err := client.PrepareAgentMode(ctx, opts.OnStartup); err != nil {
				p.Release(client)
				return nil, err
			}
		}
		return client, nil
	}
	p.mu.Unlock()

	client, err := p.start(ctx, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		// Another caller won the race. Keep theirs.
		e.refs++
		winner := e.client
		p.mu.Unlock()
		client.Stop()
		return winner, nil
	}
	p.entries[key] = &entry{client: client, refs: 1}
	p.mu.Unlock()
	return client, nil
}

// Release decrements the refcount and stops the client when it reaches
// zero. Releasing a client the pool does not hold (including one already
// fully released) is a no-op; non-pooled clients are stopped by their
// owner directly.
func (p *Pool) Release(client Client) {
	if client == nil {
		return
	}
	key := client.WorkspaceRoot()

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()
	e.client.Stop()
}

// Refs reports the current reference count for a workspace.
func (p *Pool) Refs(workspace string) int {
	key, err := filepath.Abs(workspace)
	if err != nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refs
	}
	return 0
}

// StopAll stops every pooled client and empties the pool.
func (p *Pool) StopAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range entries {
		e.client.Stop()
	}
}
