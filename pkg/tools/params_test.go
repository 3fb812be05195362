package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want map[string]any
	}{
		{
			name: "nil input",
			raw:  nil,
			want: map[string]any{},
		},
		{
			name: "map passes through",
			raw:  map[string]any{"filePath": "/tmp/x"},
			want: map[string]any{"filePath": "/tmp/x"},
		},
		{
			name: "empty string",
			raw:  "   ",
			want: map[string]any{},
		},
		{
			name: "json object",
			raw:  `{"command": "ls", "count": 2}`,
			want: map[string]any{"command": "ls", "count": float64(2)},
		},
		{
			name: "json scalar wraps",
			raw:  `42`,
			want: map[string]any{"input": float64(42)},
		},
		{
			name: "yaml with nested structure",
			raw:  "filePaths:\n  - a.py\n  - b.py",
			want: map[string]any{"filePaths": []any{"a.py", "b.py"}},
		},
		{
			name: "key-value pairs",
			raw:  "command: ls, verbose: true",
			want: map[string]any{"command": "ls", "verbose": true},
		},
		{
			name: "key=value with newlines",
			raw:  "path=/tmp/x\ncount=3",
			want: map[string]any{"path": "/tmp/x", "count": int64(3)},
		},
		{
			name: "plain prose wraps",
			raw:  "just run the tests please",
			want: map[string]any{"input": "just run the tests please"},
		},
		{
			name: "non-string scalar wraps",
			raw:  3.14,
			want: map[string]any{"input": 3.14},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseInput(tc.raw))
		})
	}
}

func TestCoerceScalar(t *testing.T) {
	assert.Equal(t, true, coerceScalar("true"))
	assert.Equal(t, false, coerceScalar("False"))
	assert.Nil(t, coerceScalar("null"))
	assert.Equal(t, int64(7), coerceScalar("7"))
	assert.Equal(t, 2.5, coerceScalar("2.5"))
	assert.Equal(t, "hello world", coerceScalar("hello world"))
}

func TestArgHelpers(t *testing.T) {
	input := map[string]any{"s": "v", "b": true, "n": float64(9)}
	assert.Equal(t, "v", stringArg(input, "s"))
	assert.Equal(t, "", stringArg(input, "missing"))
	assert.True(t, boolArg(input, "b"))
	assert.False(t, boolArg(input, "missing"))
	assert.Equal(t, 9, intArg(input, "n", 1))
	assert.Equal(t, 1, intArg(input, "missing", 1))
}
