package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// projectDetectors maps well-known config files to the ecosystem they imply.
var projectDetectors = []struct {
	file      string
	ecosystem string
}{
	{"pyproject.toml", "Python (pyproject)"},
	{"setup.py", "Python (setuptools)"},
	{"requirements.txt", "Python (pip)"},
	{"Pipfile", "Python (pipenv)"},
	{"package.json", "JavaScript/TypeScript (npm)"},
	{"tsconfig.json", "TypeScript"},
	{"go.mod", "Go (modules)"},
	{"Cargo.toml", "Rust (cargo)"},
	{"pom.xml", "Java (maven)"},
	{"build.gradle", "Java/Kotlin (gradle)"},
	{"build.gradle.kts", "Kotlin (gradle)"},
	{"Gemfile", "Ruby (bundler)"},
	{"composer.json", "PHP (composer)"},
	{"Makefile", "Make"},
	{"Dockerfile", "Docker"},
	{"docker-compose.yml", "Docker Compose"},
}

const (
	configHeadLimit = 2000
	listingLimit    = 50
)

func projectSetupTool() *Tool {
	return &Tool{
		Name:        "get_project_setup_info",
		Description: "Detect the project's language ecosystem and show its build/config files and top-level layout.",
		InputSchema: objectSchema(map[string]any{
			"projectPath": prop("string", "Path to the project. Defaults to the workspace root."),
		}),
		Handler: func(_ context.Context, input map[string]any, tc *Context) (Result, error) {
			root := stringArg(input, "projectPath")
			if root == "" {
				root = tc.WorkspaceRoot
			}

			var sections []string

			var detected []string
			for _, det := range projectDetectors {
				path := filepath.Join(root, det.file)
				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}
				detected = append(detected, fmt.Sprintf("- %s (%s)", det.file, det.ecosystem))
			}
			if len(detected) > 0 {
				sections = append(sections, "## Detected project files\n"+strings.Join(detected, "\n"))
			} else {
				sections = append(sections, "## Detected project files\nNo recognised project configuration files found.")
			}

			for _, det := range projectDetectors {
				path := filepath.Join(root, det.file)
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				content := string(data)
				if len(content) > configHeadLimit {
					content = content[:configHeadLimit] + "\n... (truncated)"
				}
				sections = append(sections, fmt.Sprintf("## %s\n```\n%s\n```", det.file, content))
			}

			entries, err := os.ReadDir(root)
			if err == nil {
				var listing []string
				for _, entry := range entries {
					if len(listing) >= listingLimit {
						listing = append(listing, "...")
						break
					}
					name := entry.Name()
					if entry.IsDir() {
						name += "/"
					}
					listing = append(listing, name)
				}
				sections = append(sections, "## Top-level contents\n"+strings.Join(listing, "\n"))
			}

			return Text(strings.Join(sections, "\n\n")), nil
		},
	}
}
