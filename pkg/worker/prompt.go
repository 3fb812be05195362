package worker

import (
	"encoding/json"
	"strings"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
)

// BuildPrompt assembles the message actually sent upstream. Blocks are
// joined with blank lines, in order: the system-instructions preamble
// (first turn only), the shared context from dependency results, the
// schema-matched structured input, the free-form task prompt, and the
// answer-format guidance when a reply schema is defined.
func BuildPrompt(cfg config.WorkerConfig, prompt string, contextData, structured map[string]any, firstTurn bool) string {
	var parts []string

	if firstTurn && cfg.SystemPrompt != "" {
		parts = append(parts, "<system_instructions>\n"+cfg.SystemPrompt+"\n</system_instructions>")
	}
	if len(contextData) > 0 {
		parts = append(parts, "<shared_context>\n"+jsonBlock(contextData)+"\n</shared_context>")
	}
	if len(cfg.QuestionSchema) > 0 && len(structured) > 0 {
		parts = append(parts, "<structured_input>\n"+jsonBlock(structured)+"\n</structured_input>")
	}
	if prompt != "" {
		parts = append(parts, prompt)
	}
	if len(cfg.AnswerSchema) > 0 {
		parts = append(parts, answerGuidance(cfg.AnswerSchema))
	}

	return strings.Join(parts, "\n\n")
}

// SplitArguments separates an execute_task argument map into the free-form
// prompt, the shared context, and the question-schema-matched structured
// fields. Unrecognised extra keys are ignored.
func SplitArguments(questionSchema schema.Schema, args map[string]any) (prompt string, contextData, structured map[string]any) {
	prompt, _ = args["prompt"].(string)

	switch v := args["context"].(type) {
	case map[string]any:
		contextData = v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			contextData = parsed
		}
	}

	for name := range questionSchema {
		if value, ok := args[name]; ok {
			if structured == nil {
				structured = map[string]any{}
			}
			structured[name] = value
		}
	}
	return prompt, contextData, structured
}

func answerGuidance(answer schema.Schema) string {
	return "Respond with a single JSON object containing the fields below. " +
		"You may include prose around it, but the JSON object must be present.\n" +
		answer.Describe("Fields")
}

func jsonBlock(data map[string]any) string {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
