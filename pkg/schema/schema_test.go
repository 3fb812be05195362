package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewSchema() Schema {
	return Schema{
		"approved": {Type: "boolean", Description: "Whether the change is approved", Required: true},
		"summary":  {Type: "string", Description: "One-line summary", Required: true},
		"issues":   {Type: "array", Description: "Issues found"},
	}
}

func TestToJSONSchema(t *testing.T) {
	js := reviewSchema().ToJSONSchema()

	assert.Equal(t, "object", js["type"])
	assert.Equal(t, []string{"approved", "summary"}, js["required"])

	props := js["properties"].(map[string]any)
	approved := props["approved"].(map[string]any)
	assert.Equal(t, "boolean", approved["type"])
	assert.Equal(t, "Whether the change is approved", approved["description"])
}

func TestToJSONSchemaOmitsEmptyRequired(t *testing.T) {
	js := Schema{"goal": {Type: "string"}}.ToJSONSchema()
	_, ok := js["required"]
	assert.False(t, ok, "empty required list must be omitted")
}

func TestDescribe(t *testing.T) {
	text := reviewSchema().Describe("Parameters")

	assert.Contains(t, text, "Parameters:")
	assert.Contains(t, text, "  - approved (boolean, required): Whether the change is approved")
	assert.Contains(t, text, "  - issues (array): Issues found")

	assert.Empty(t, Schema{}.Describe("Parameters"))
}

func TestSoftValidateHappyPath(t *testing.T) {
	result := SoftValidate(map[string]any{
		"approved": true,
		"summary":  "looks good",
	}, reviewSchema())

	assert.Equal(t, true, result.Parsed["approved"])
	assert.Equal(t, "looks good", result.Parsed["summary"])
	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Extras)
}

func TestSoftValidateCoercionAndExtras(t *testing.T) {
	result := SoftValidate(map[string]any{
		"approved":   "true",
		"summary":    float64(42),
		"confidence": 0.9,
	}, reviewSchema())

	assert.Equal(t, true, result.Parsed["approved"])
	assert.Equal(t, "42", result.Parsed["summary"])
	assert.Equal(t, map[string]any{"confidence": 0.9}, result.Extras)
	assert.Empty(t, result.Missing)
	assert.Len(t, result.Warnings, 2)
}

func TestSoftValidateMissingRequired(t *testing.T) {
	result := SoftValidate(map[string]any{"summary": "partial"}, reviewSchema())

	assert.Equal(t, []string{"approved"}, result.Missing)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "approved")
}

func TestSoftValidateStringInput(t *testing.T) {
	result := SoftValidate(`{"approved": false, "summary": "nope"}`, reviewSchema())
	assert.Equal(t, false, result.Parsed["approved"])
	assert.Empty(t, result.Missing)
}

func TestSoftValidateUnparseableString(t *testing.T) {
	result := SoftValidate("the code looks fine", reviewSchema())

	assert.Empty(t, result.Parsed)
	assert.Equal(t, []string{"approved", "summary"}, result.Missing)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "the code looks fine", result.Raw)
}

func TestSoftValidateNonObjectJSON(t *testing.T) {
	result := SoftValidate(`[1, 2, 3]`, reviewSchema())
	assert.Empty(t, result.Parsed)
	assert.Contains(t, result.Warnings[0], "not a JSON object")
}

func TestSoftValidateCoercionFailureDegrades(t *testing.T) {
	result := SoftValidate(map[string]any{
		"approved": "maybe",
		"summary":  "ok",
	}, reviewSchema())

	// Uncoercible values pass through unchanged with no warning.
	assert.Equal(t, "maybe", result.Parsed["approved"])
}

func TestBuildAnswerRoundTrip(t *testing.T) {
	result := SoftValidate(map[string]any{
		"approved": true,
		"summary":  "fine",
		"extra":    "kept",
	}, reviewSchema())
	answer := BuildAnswer(result)

	assert.Equal(t, true, answer["approved"])
	assert.Equal(t, "kept", answer["extra"])

	// Re-validating a built answer whose keys cover the required set
	// reports nothing missing.
	revalidated := SoftValidate(answer, reviewSchema())
	assert.Empty(t, revalidated.Missing)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			"bare object",
			`{"approved": true, "summary": "looks good"}`,
			map[string]any{"approved": true, "summary": "looks good"},
		},
		{
			"json fence",
			"Here is my review:\n```json\n{\"approved\": true}\n```\nDone.",
			map[string]any{"approved": true},
		},
		{
			"generic fence",
			"Result:\n```\n{\"count\": 5}\n```",
			map[string]any{"count": float64(5)},
		},
		{
			"object embedded in prose",
			`After reviewing, my assessment is {"approved": false, "reason": "bugs"} which stands.`,
			map[string]any{"approved": false, "reason": "bugs"},
		},
		{
			"nested braces in prose",
			`Verdict: {"outer": {"inner": 1}} trailing text`,
			map[string]any{"outer": map[string]any{"inner": float64(1)}},
		},
		{"no json", "The code looks fine, no issues found.", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.text))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []any
	}{
		{
			"bare array",
			`[{"worker_role": "coder", "task": "write it", "depends_on": []}]`,
			[]any{map[string]any{"worker_role": "coder", "task": "write it", "depends_on": []any{}}},
		},
		{
			"json fence",
			"Plan:\n```json\n[1, 2]\n```",
			[]any{float64(1), float64(2)},
		},
		{
			"array embedded in prose",
			`The plan is [“x”] no wait: ["a", "b"] as discussed.`,
			[]any{"a", "b"},
		},
		{
			"nested arrays",
			`Tasks: [["a"], ["b"]] done`,
			[]any{[]any{"a"}, []any{"b"}},
		},
		{"no array", "There is nothing to plan.", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONArray(tt.text))
		})
	}
}
