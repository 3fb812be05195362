package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

func readFileTool() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file, optionally specifying a line range.",
		InputSchema: objectSchema(map[string]any{
			"filePath":               prop("string", "The absolute path of the file to read."),
			"startLineNumberBaseOne": prop("number", "Start line (1-based). Default: 1."),
			"endLineNumberBaseOne":   prop("number", "End line inclusive (1-based). Default: end of file."),
		}, "filePath"),
		Handler: func(_ context.Context, input map[string]any, _ *Context) (Result, error) {
			path := stringArg(input, "filePath")
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			lines := strings.SplitAfter(string(data), "\n")
			if len(lines) > 0 && lines[len(lines)-1] == "" {
				lines = lines[:len(lines)-1]
			}
			total := len(lines)

			start := intArg(input, "startLineNumberBaseOne", 1)
			end := intArg(input, "endLineNumberBaseOne", total)
			if start < 1 {
				start = 1
			}
			if end > total {
				end = total
			}
			var text string
			if start <= end {
				text = strings.Join(lines[start-1:end], "")
			}
			return Textf("File `%s`. Total %d lines. Line range (1-based) %d to %d:\n```\n%s\n```",
				path, total, start, end, text), nil
		},
	}
}

func insertEditTool() *Tool {
	return &Tool{
		Name:        "insert_edit_into_file",
		Description: "Insert or replace text in a file. Creates the file if it doesn't exist.",
		InputSchema: objectSchema(map[string]any{
			"filePath":    prop("string", "The absolute path of the file to edit."),
			"code":        prop("string", "The new code to insert."),
			"explanation": prop("string", "A short explanation of what this edit does."),
		}, "filePath", "code"),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			path := stringArg(input, "filePath")
			code := stringArg(input, "code")
			if dir := filepath.Dir(path); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, err
				}
			}
			if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
				return nil, err
			}
			tc.syncFile(path, code)
			return Textf("Edited file %s", path), nil
		},
	}
}

func multiReplaceTool() *Tool {
	return &Tool{
		Name:        "multi_replace_string",
		Description: "Apply multiple string replacements across one or more files in a single operation.",
		InputSchema: objectSchema(map[string]any{
			"explanation": prop("string", "A brief explanation of the multi-replace operation."),
			"replacements": map[string]any{
				"type":        "array",
				"description": "Array of replacement operations to apply sequentially.",
				"items": objectSchema(map[string]any{
					"explanation": prop("string", "Explanation of this replacement."),
					"filePath":    prop("string", "Absolute path to the file."),
					"oldString":   prop("string", "The exact text to find."),
					"newString":   prop("string", "The replacement text."),
				}, "explanation", "filePath", "oldString", "newString"),
				"minItems": 1,
			},
		}, "explanation", "replacements"),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			replacements, _ := input["replacements"].([]any)
			for i, raw := range replacements {
				rep, _ := raw.(map[string]any)
				path := stringArg(rep, "filePath")
				oldStr := stringArg(rep, "oldString")
				newStr := stringArg(rep, "newString")

				data, err := os.ReadFile(path)
				if err != nil {
					return nil, err
				}
				content := string(data)
				if !strings.Contains(content, oldStr) {
					return Textf("Error: Replacement %d: oldString not found in %s", i, path), nil
				}
				content = strings.Replace(content, oldStr, newStr, 1)
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return nil, err
				}
				tc.syncFile(path, content)
			}
			return Textf("Applied %d replacements", len(replacements)), nil
		},
	}
}

func createDirectoryTool() *Tool {
	return &Tool{
		Name:        "create_directory",
		Description: "Create a new directory (and parent directories as needed).",
		InputSchema: objectSchema(map[string]any{
			"dirPath": prop("string", "The absolute path of the directory to create."),
		}, "dirPath"),
		Handler: func(_ context.Context, input map[string]any, _ *Context) (Result, error) {
			path := stringArg(input, "dirPath")
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
			return Textf("Created directory %s", path), nil
		},
	}
}

// Schema construction helpers shared by the built-in tools.

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

