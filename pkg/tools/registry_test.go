package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	return &Context{WorkspaceRoot: t.TempDir()}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{Name: "echo"}))
	err := r.Register(&Tool{Name: "echo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nope", nil, newTestContext(t))
	require.Len(t, result, 1)
	assert.Contains(t, result[0].Value, "unknown tool")
}

func TestExecuteWrapsErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any, *Context) (Result, error) {
			return nil, errors.New("disk on fire")
		},
	}))
	result := r.Execute(context.Background(), "boom", nil, newTestContext(t))
	require.Len(t, result, 1)
	assert.Equal(t, "Error: disk on fire", result[0].Value)
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "panicky",
		Handler: func(context.Context, map[string]any, *Context) (Result, error) {
			panic("nil map write")
		},
	}))
	result := r.Execute(context.Background(), "panicky", nil, newTestContext(t))
	require.Len(t, result, 1)
	assert.Contains(t, result[0].Value, "tool panicked")
	assert.Contains(t, result[0].Value, "nil map write")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "verbose",
		Handler: func(context.Context, map[string]any, *Context) (Result, error) {
			return Text(strings.Repeat("x", OutputLimit*2)), nil
		},
	}))
	result := r.Execute(context.Background(), "verbose", nil, newTestContext(t))
	require.Len(t, result, 1)
	assert.Len(t, result[0].Value, OutputLimit)
}

func TestSchemasRespectSelection(t *testing.T) {
	r := DefaultRegistry()

	all := r.Schemas(config.ToolSelection{config.AllTools})
	assert.Len(t, all, len(Builtins()))
	assert.Equal(t, "read_file", all[0].Name)

	restricted := r.Schemas(config.ToolSelection{"read_file", "grep_search"})
	require.Len(t, restricted, 2)
	assert.Equal(t, "read_file", restricted[0].Name)
	assert.Equal(t, "grep_search", restricted[1].Name)

	none := r.Schemas(config.ToolSelection{})
	assert.Empty(t, none)
}

func TestBuiltinSchemasAreWellFormed(t *testing.T) {
	for _, tool := range Builtins() {
		require.NotEmpty(t, tool.Name)
		require.NotEmpty(t, tool.Description, tool.Name)
		require.NotNil(t, tool.Handler, tool.Name)
		require.Equal(t, "object", tool.InputSchema["type"], tool.Name)
		_, hasRequired := tool.InputSchema["required"]
		assert.True(t, hasRequired, "%s schema must carry a required list", tool.Name)
	}
}
