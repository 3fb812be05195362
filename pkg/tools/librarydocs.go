package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Context7 backs the two-step library documentation lookup:
// resolve_library_id finds a library ID, get_library_docs fetches sections.
const context7API = "https://context7.com/api/v2"

var docsHTTPClient = &http.Client{Timeout: 15 * time.Second}

func resolveLibraryTool() *Tool {
	return &Tool{
		Name: "resolve_library_id",
		Description: "Resolves a library/package name to a library ID. " +
			"Call this BEFORE get_library_docs to find the correct library ID.",
		InputSchema: objectSchema(map[string]any{
			"libraryName": prop("string", "Library name to search for (e.g. 'playwright', 'react', 'gin')."),
			"query":       prop("string", "The user's question or task. Used to rank results by relevance."),
		}, "libraryName"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			libraryName := stringArg(input, "libraryName")
			query := stringArg(input, "query")
			if libraryName == "" {
				return Text("Error: 'libraryName' is required."), nil
			}
			if query == "" {
				query = libraryName
			}

			params := url.Values{"query": {query}, "libraryName": {libraryName}}
			body, err := fetchContext7(ctx, "/libs/search?"+params.Encode())
			if err != nil {
				tc.logger().Debug("Context7 API unreachable", "error", err)
				return Textf("Context7 API is unreachable; cannot resolve '%s'.", libraryName), nil
			}

			var parsed struct {
				Results []struct {
					ID          string `json:"id"`
					Title       string `json:"title"`
					Description string `json:"description"`
				} `json:"results"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Results) == 0 {
				return Textf("No libraries found matching '%s'.", libraryName), nil
			}

			results := parsed.Results
			if len(results) > 10 {
				results = results[:10]
			}
			var lines []string
			for _, item := range results {
				entry := fmt.Sprintf("- **%s**\n  ID: `%s`", item.Title, item.ID)
				if item.Description != "" {
					entry += "\n  " + item.Description
				}
				lines = append(lines, entry)
			}
			return Text(strings.Join(lines, "\n\n")), nil
		},
	}
}

func libraryDocsTool() *Tool {
	return &Tool{
		Name: "get_library_docs",
		Description: "Fetches documentation and code examples for a library. " +
			"You MUST call resolve_library_id first to get the library ID. " +
			"Do not call more than 3 times per question; narrow your query instead.",
		InputSchema: objectSchema(map[string]any{
			"libraryId": prop("string", "Library ID from resolve_library_id (e.g. '/microsoft/playwright')."),
			"query": prop("string", "Specific question or task. Be detailed for better results. "+
				"Good: 'How to wait for element to be visible in Playwright'. Bad: 'wait'."),
		}, "libraryId", "query"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			libraryID := strings.TrimSpace(stringArg(input, "libraryId"))
			query := stringArg(input, "query")
			if libraryID == "" {
				return Text("Error: 'libraryId' is required. Call resolve_library_id first."), nil
			}
			if query == "" {
				return Text("Error: 'query' is required. Describe what you need."), nil
			}

			// Context7 expects /org/project form.
			if !strings.HasPrefix(libraryID, "/") {
				libraryID = "/" + libraryID
			}
			params := url.Values{"query": {query}, "libraryId": {libraryID}}
			body, err := fetchContext7(ctx, "/context?"+params.Encode())
			if err != nil {
				tc.logger().Debug("Context7 API unreachable", "error", err)
				return Textf("Context7 API is unreachable; cannot fetch docs for '%s'.", libraryID), nil
			}

			text := string(body)
			if strings.TrimSpace(text) == "" {
				return Textf("No documentation found for '%s'. "+
					"The library ID may be invalid; call resolve_library_id to verify.", libraryID), nil
			}
			if len(text) > OutputLimit {
				text = text[:OutputLimit] + "\n\n... (truncated, narrow your query)"
			}
			return Text(text), nil
		},
	}
}

func fetchContext7(ctx context.Context, pathAndQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, context7API+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "hive/0.1")
	req.Header.Set("X-Context7-Source", "hive")

	resp, err := docsHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("context7: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
