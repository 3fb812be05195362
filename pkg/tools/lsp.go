package tools

import (
	"context"
	"fmt"
	"strings"
)

func getErrorsTool() *Tool {
	return &Tool{
		Name:        "get_errors",
		Description: "Get compile and lint errors reported by the language server for the given files.",
		InputSchema: objectSchema(map[string]any{
			"filePaths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "File paths to check for errors.",
			},
		}, "filePaths"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			paths, _ := input["filePaths"].([]any)
			if len(paths) == 0 {
				return nil, fmt.Errorf("filePaths must list at least one file")
			}
			if tc.LSP == nil {
				return Text("No language server available."), nil
			}

			var lines []string
			for _, raw := range paths {
				path, _ := raw.(string)
				diags, ok := tc.LSP.FileDiagnostics(ctx, path)
				if !ok {
					lines = append(lines, fmt.Sprintf("%s: no language server available", path))
					continue
				}
				if diags != "" {
					lines = append(lines, diags)
				}
			}
			if len(lines) == 0 {
				return Text("No errors found."), nil
			}
			return Text(strings.Join(lines, "\n")), nil
		},
	}
}

func listCodeUsagesTool() *Tool {
	return &Tool{
		Name:        "list_code_usages",
		Description: "List every usage of a symbol (function, class, method, variable) across the workspace.",
		InputSchema: objectSchema(map[string]any{
			"symbolName": prop("string", "The symbol to find usages of."),
			"filePath":   prop("string", "A file where the symbol is defined or used, to anchor the lookup."),
		}, "symbolName"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			symbol := stringArg(input, "symbolName")
			filePath := stringArg(input, "filePath")

			// Semantic references first, text scan as fallback.
			if tc.LSP != nil {
				if output, ok := tc.LSP.SymbolReferences(ctx, symbol, filePath); ok {
					if output == "" {
						return Textf("No usages found for '%s'.", symbol), nil
					}
					return Text(output), nil
				}
			}

			output := searchWorkspace(tc.WorkspaceRoot, "", true, func(line string) bool {
				return strings.Contains(line, symbol)
			})
			if output == "" {
				return Textf("No usages found for '%s'.", symbol), nil
			}
			return Text(output), nil
		},
	}
}
