package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func memoryTool() *Tool {
	return &Tool{
		Name:        "memory",
		Description: "Persistent memory store. Save, read, list, or delete named memory files for cross-session recall.",
		InputSchema: objectSchema(map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The operation: 'save', 'read', 'list', or 'delete'.",
				"enum":        []string{"save", "read", "list", "delete"},
			},
			"path":    prop("string", "Memory file name (e.g. 'project-notes.md'). Required for save/read/delete."),
			"content": prop("string", "Content to save. Required for 'save' command."),
		}, "command"),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			command := stringArg(input, "command")
			path := stringArg(input, "path")
			content := stringArg(input, "content")

			dir := tc.MemoryDir
			if dir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, err
				}
				dir = filepath.Join(home, ".hive", "memories")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}

			if command == "list" {
				entries, err := os.ReadDir(dir)
				if err != nil {
					return nil, err
				}
				var lines []string
				for _, entry := range entries {
					if entry.IsDir() {
						continue
					}
					info, err := entry.Info()
					if err != nil {
						continue
					}
					lines = append(lines, fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size()))
				}
				sort.Strings(lines)
				if len(lines) == 0 {
					return Text("No memories saved yet."), nil
				}
				return Text(strings.Join(lines, "\n")), nil
			}

			if path == "" {
				return Text("Error: 'path' is required for save/read/delete."), nil
			}
			// Basename only: no directory traversal out of the store.
			safeName := filepath.Base(path)
			fullPath := filepath.Join(dir, safeName)

			switch command {
			case "save":
				if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
					return nil, err
				}
				return Textf("Saved memory '%s'.", safeName), nil
			case "read":
				data, err := os.ReadFile(fullPath)
				if os.IsNotExist(err) {
					return Textf("Memory '%s' not found.", safeName), nil
				}
				if err != nil {
					return nil, err
				}
				return Text(string(data)), nil
			case "delete":
				if err := os.Remove(fullPath); os.IsNotExist(err) {
					return Textf("Memory '%s' not found.", safeName), nil
				} else if err != nil {
					return nil, err
				}
				return Textf("Deleted memory '%s'.", safeName), nil
			}
			return Textf("Unknown memory command: %s", command), nil
		},
	}
}
