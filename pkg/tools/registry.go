// Package tools implements the local tool registry: tool schemas registered
// with the upstream session, handler dispatch for server-initiated tool
// calls, and the built-in tool set.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agenthive/hive/pkg/config"
)

// OutputLimit caps the characters of any single tool text result.
const OutputLimit = 4000

// TextItem is one element of a tool result.
type TextItem struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Result is what every tool handler returns: a list of text items.
type Result []TextItem

// Text builds a single-item result.
func Text(value string) Result {
	return Result{{Type: "text", Value: value}}
}

// Textf builds a single-item result from a format string.
func Textf(format string, args ...any) Result {
	return Text(fmt.Sprintf(format, args...))
}

// Truncate enforces the output cap on a text value.
func Truncate(s string) string {
	if len(s) > OutputLimit {
		return s[:OutputLimit]
	}
	return s
}

// Handler executes one tool call.
type Handler func(ctx context.Context, input map[string]any, tc *Context) (Result, error)

// Tool pairs a registration schema with its handler.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Schema is a tool in upstream registration form.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Registry holds tools by name, preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t *Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Schemas returns registration schemas for the tools the selection allows,
// in registration order.
func (r *Registry) Schemas(selection config.ToolSelection) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		if selection != nil && !selection.Allows(name) {
			continue
		}
		t := r.tools[name]
		schemas = append(schemas, Schema{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return schemas
}

// Execute runs the named tool. Handler failures of any kind come back as
// "Error: ..." text: a broken tool call must never take the session down.
// Every returned item is truncated to OutputLimit.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, tc *Context) Result {
	tool, ok := r.Get(name)
	if !ok {
		return Textf("Error: unknown tool %q", name)
	}

	result, err := func() (result Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		return tool.Handler(ctx, input, tc)
	}()
	if err != nil {
		tc.logger().Warn("Tool failed", "tool", name, "error", err)
		return Textf("Error: %v", err)
	}

	for i := range result {
		result[i].Value = Truncate(result[i].Value)
	}
	return result
}

// Context carries the workspace facilities tools operate through. Nil
// function fields and a nil LSP bridge are tolerated everywhere.
type Context struct {
	WorkspaceRoot string

	// SyncFile pushes edited file content to the upstream document store.
	SyncFile func(path, content string) error

	// LSP, when set, provides semantic lookups with text-search fallback.
	LSP LSPBridge

	// MemoryDir overrides the memory-store location. Empty means the
	// default under the user home directory.
	MemoryDir string

	Logger *slog.Logger
}

// LSPBridge is the subset of the language-server bridge tools consume.
// Every method degrades to ("", false) when no server can answer.
type LSPBridge interface {
	// SymbolSearch resolves a symbol query to formatted locations. The
	// bool reports whether any language server produced results.
	SymbolSearch(ctx context.Context, query string) (string, bool)

	// FileDiagnostics reports the language server's diagnostics for one
	// file. An empty string with true means the file is clean.
	FileDiagnostics(ctx context.Context, path string) (string, bool)

	// SymbolReferences lists every reference to the named symbol,
	// resolved from the given file.
	SymbolReferences(ctx context.Context, name, filePath string) (string, bool)
}

func (tc *Context) logger() *slog.Logger {
	if tc != nil && tc.Logger != nil {
		return tc.Logger
	}
	return slog.Default()
}

func (tc *Context) syncFile(path, content string) {
	if tc.SyncFile == nil {
		return
	}
	if err := tc.SyncFile(path, content); err != nil {
		tc.logger().Warn("Document sync failed", "path", path, "error", err)
	}
}
