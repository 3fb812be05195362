package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
)

func TestSanitizeSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]any
		check  func(t *testing.T, schema map[string]any)
	}{
		{
			"anyOf collapses to first non-null variant",
			map[string]any{
				"anyOf": []any{
					map[string]any{"type": "object", "properties": map[string]any{
						"p": map[string]any{"type": "string"},
					}},
					map[string]any{"type": "null"},
				},
			},
			func(t *testing.T, schema map[string]any) {
				assert.Equal(t, "object", schema["type"])
				assert.NotContains(t, schema, "anyOf")
				props := schema["properties"].(map[string]any)
				assert.Equal(t, "string", props["p"].(map[string]any)["type"])
			},
		},
		{
			"array type takes first non-null entry",
			map[string]any{"type": []any{"null", "integer"}},
			func(t *testing.T, schema map[string]any) {
				assert.Equal(t, "integer", schema["type"])
			},
		},
		{
			"typeless property defaults to string",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"q": map[string]any{"description": "no type given"},
				},
			},
			func(t *testing.T, schema map[string]any) {
				props := schema["properties"].(map[string]any)
				assert.Equal(t, "string", props["q"].(map[string]any)["type"])
			},
		},
		{
			"items and additionalProperties recurse",
			map[string]any{
				"type":                 "array",
				"items":                map[string]any{"type": []any{"string", "null"}},
				"additionalProperties": map[string]any{"oneOf": []any{map[string]any{"type": "number"}}},
			},
			func(t *testing.T, schema map[string]any) {
				assert.Equal(t, "string", schema["items"].(map[string]any)["type"])
				assert.Equal(t, "number", schema["additionalProperties"].(map[string]any)["type"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SanitizeSchema(tt.schema)
			tt.check(t, tt.schema)
		})
	}
}

func TestSanitizeSchemaIdempotent(t *testing.T) {
	schema := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "object", "properties": map[string]any{
				"p": map[string]any{"type": []any{"string", "null"}},
			}},
			map[string]any{"type": "null"},
		},
	}
	SanitizeSchema(schema)
	first := asJSON(t, schema)
	SanitizeSchema(schema)
	assert.Equal(t, first, asJSON(t, schema))
}

func TestEnsureRequired(t *testing.T) {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	EnsureRequired(schema)
	assert.Equal(t, []any{}, schema["required"])

	schema["required"] = []any{"p"}
	EnsureRequired(schema)
	assert.Equal(t, []any{"p"}, schema["required"])
}

func TestPrefixedName(t *testing.T) {
	assert.Equal(t, "mcp_fs_read", PrefixedName("fs", "read"))
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{
			"text items joined",
			map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "first"},
				map[string]any{"type": "text", "text": "second"},
			}},
			"first\nsecond",
		},
		{
			"value key fallback",
			map[string]any{"content": []any{map[string]any{"value": "v"}}},
			"v",
		},
		{
			"bare string items",
			map[string]any{"content": []any{"raw"}},
			"raw",
		},
		{
			"no text falls back to JSON",
			map[string]any{"isError": false},
			`{"isError":false}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlattenContent(tt.result))
		})
	}
}

// fakeServerScript emulates an MCP server: it answers initialize, swallows
// the initialized notification, lists one tool with an awkward schema, and
// serves one tools/call.
const fakeServerScript = `
read line; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"fake"}}}'
read line
read line; printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"read","description":"Read a file","inputSchema":{"anyOf":[{"type":"object","properties":{"p":{"type":"string"}}},{"type":"null"}]}}]}}'
read line; printf '%s\n' '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hello from fs"}]}}'
sleep 30
`

func TestBridgeEndToEnd(t *testing.T) {
	bridge := NewBridge(nil)
	bridge.AddServers(map[string]config.MCPServerConfig{
		"fs":   {Command: "sh", Args: []string{"-c", fakeServerScript}},
		"http": {URL: "https://example.com/mcp"}, // no command, skipped
	})
	t.Cleanup(bridge.StopAll)

	var progress []string
	bridge.StartAll(context.Background(), func(msg string) { progress = append(progress, msg) })
	assert.Equal(t, []string{"Starting MCP: fs..."}, progress)

	schemas := bridge.ToolSchemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, "mcp_fs_read", schemas[0].Name)
	assert.Equal(t, "[fs] Read a file", schemas[0].Description)
	assert.Equal(t, "object", schemas[0].InputSchema["type"])
	assert.Equal(t, []any{}, schemas[0].InputSchema["required"])
	props := schemas[0].InputSchema["properties"].(map[string]any)
	assert.Equal(t, "string", props["p"].(map[string]any)["type"])

	assert.True(t, bridge.IsMCPTool("mcp_fs_read"))
	assert.False(t, bridge.IsMCPTool("read_file"))

	out := bridge.CallTool(context.Background(), "mcp_fs_read", map[string]any{"p": "/tmp/x"})
	assert.Equal(t, "hello from fs", out)

	assert.Contains(t, bridge.CallTool(context.Background(), "mcp_nope_x", nil), "Unknown MCP tool")
}

func asJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
