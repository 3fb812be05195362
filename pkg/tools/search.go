package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// codeExtensions limits symbol search to recognisable source files.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".java": true,
	".go": true, ".rs": true, ".c": true, ".cpp": true, ".h": true,
	".cs": true, ".rb": true,
}

// definitionKeywords indicate symbol definitions across common languages.
var definitionKeywords = `\b(def|class|function|const|let|var|func|fn|type|interface|enum|struct)\s`

func grepSearchTool() *Tool {
	return &Tool{
		Name:        "grep_search",
		Description: "Search for a text pattern or regex in files within the workspace.",
		InputSchema: objectSchema(map[string]any{
			"query":          prop("string", "The pattern to search for."),
			"isRegexp":       prop("boolean", "Whether the pattern is a regex. Default: false."),
			"includePattern": prop("string", "Glob pattern to filter which files to search."),
		}, "query"),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			query := stringArg(input, "query")
			isRegexp := boolArg(input, "isRegexp")
			include := stringArg(input, "includePattern")

			pattern := query
			if !isRegexp {
				pattern = regexp.QuoteMeta(query)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", query, err)
			}

			output := searchWorkspace(tc.WorkspaceRoot, include, false, func(line string) bool {
				return re.MatchString(line)
			})
			if output == "" {
				return Text("No matches found."), nil
			}
			return Text(output), nil
		},
	}
}

func searchSymbolsTool() *Tool {
	return &Tool{
		Name:        "search_workspace_symbols",
		Description: "Search for symbol definitions (functions, classes, methods, variables) in the workspace by name.",
		InputSchema: objectSchema(map[string]any{
			"symbolName": prop("string", "The symbol name to search for."),
		}, "symbolName"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			symbol := stringArg(input, "symbolName")

			// Semantic search first, text scan as fallback.
			if tc.LSP != nil {
				if output, ok := tc.LSP.SymbolSearch(ctx, symbol); ok {
					return Text(output), nil
				}
			}

			quoted := regexp.QuoteMeta(symbol)
			re, err := regexp.Compile(fmt.Sprintf("(%s).*%s|%s.*(%s)",
				definitionKeywords, quoted, quoted, definitionKeywords))
			if err != nil {
				return nil, err
			}
			output := searchWorkspace(tc.WorkspaceRoot, "", true, func(line string) bool {
				return re.MatchString(line)
			})
			if output == "" {
				return Textf("No symbol definitions found for '%s'.", symbol), nil
			}
			return Text(output), nil
		},
	}
}

func findTestFilesTool() *Tool {
	return &Tool{
		Name:        "find_test_files",
		Description: "Find test files associated with the given source files.",
		InputSchema: objectSchema(map[string]any{
			"filePaths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Source file paths to find tests for.",
			},
		}, "filePaths"),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			paths, _ := input["filePaths"].([]any)
			found := make(map[string]bool)
			for _, raw := range paths {
				sourcePath, _ := raw.(string)
				base := filepath.Base(sourcePath)
				ext := filepath.Ext(base)
				name := strings.TrimSuffix(base, ext)
				dir := filepath.Dir(sourcePath)

				candidates := []string{
					filepath.Join(dir, "test_"+name+ext),
					filepath.Join(dir, name+"_test"+ext),
					filepath.Join(dir, "tests", base),
					filepath.Join(dir, "test", base),
					filepath.Join(dir, "tests", "test_"+name+ext),
				}
				for _, candidate := range candidates {
					if _, err := os.Stat(candidate); err == nil {
						found[candidate] = true
					}
				}

				testNames := map[string]bool{
					"test_" + name + ext: true,
					name + "_test" + ext: true,
				}
				_ = filepath.WalkDir(tc.WorkspaceRoot, func(path string, d os.DirEntry, err error) error {
					if err != nil {
						return nil
					}
					if !d.IsDir() && testNames[d.Name()] {
						found[path] = true
					}
					return nil
				})
			}
			if len(found) == 0 {
				return Text("No test files found."), nil
			}
			files := make([]string, 0, len(found))
			for path := range found {
				files = append(files, path)
			}
			sort.Strings(files)
			return Text(strings.Join(files, "\n")), nil
		},
	}
}

// searchWorkspace walks the workspace, matching lines file by file until
// the output cap is reached.
func searchWorkspace(root, include string, onlyCode bool, match func(string) bool) string {
	var lines []string
	total := 0

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		if onlyCode && !codeExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for lineno := 1; scanner.Scan(); lineno++ {
			line := scanner.Text()
			if match(line) {
				entry := fmt.Sprintf("%s:%d:%s", path, lineno, strings.TrimRight(line, " \t"))
				lines = append(lines, entry)
				total += len(entry) + 1
				if total > OutputLimit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})

	return strings.Join(lines, "\n")
}
