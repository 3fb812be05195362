package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

func runInTerminalTool() *Tool {
	return &Tool{
		Name:        "run_in_terminal",
		Description: "Run a shell command in the terminal.",
		InputSchema: objectSchema(map[string]any{
			"command":     prop("string", "The command to run."),
			"explanation": prop("string", "What this command does."),
		}, "command", "explanation"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			output, _, err := runShell(ctx, tc, stringArg(input, "command"), 60*time.Second)
			if err != nil {
				return nil, err
			}
			return Text(output), nil
		},
	}
}

func runTestsTool() *Tool {
	return &Tool{
		Name:        "run_tests",
		Description: "Run tests using the project's test framework.",
		InputSchema: objectSchema(map[string]any{
			"command":     prop("string", "The test command to run."),
			"explanation": prop("string", "What tests are being run."),
		}, "command"),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			output, exitCode, err := runShell(ctx, tc, stringArg(input, "command"), 120*time.Second)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(output) == "" {
				output = fmt.Sprintf("Tests exited with code %d", exitCode)
			}
			return Textf("Exit code: %d\n%s", exitCode, output), nil
		},
	}
}

func getChangedFilesTool() *Tool {
	return &Tool{
		Name:        "get_changed_files",
		Description: "Get the list of changed, staged, or untracked files from git.",
		InputSchema: objectSchema(map[string]any{
			"repositoryPath":     prop("string", "Path to the git repository. Defaults to workspace root."),
			"sourceControlState": prop("string", "Filter by state: 'all' (default), 'staged', 'unstaged', 'untracked'."),
		}),
		Handler: func(ctx context.Context, input map[string]any, tc *Context) (Result, error) {
			repoPath := stringArg(input, "repositoryPath")
			if repoPath == "" {
				repoPath = tc.WorkspaceRoot
			}
			state := stringArg(input, "sourceControlState")
			if state == "" {
				state = "all"
			}

			sections := []struct {
				states []string
				title  string
				args   []string
			}{
				{[]string{"all", "staged"}, "Staged files", []string{"diff", "--name-only", "--cached"}},
				{[]string{"all", "unstaged"}, "Unstaged changes", []string{"diff", "--name-only"}},
				{[]string{"all", "untracked"}, "Untracked files", []string{"ls-files", "--others", "--exclude-standard"}},
			}

			var results []string
			for _, section := range sections {
				applies := false
				for _, s := range section.states {
					if s == state {
						applies = true
						break
					}
				}
				if !applies {
					continue
				}
				gitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				cmd := exec.CommandContext(gitCtx, "git", section.args...)
				cmd.Dir = repoPath
				out, _ := cmd.Output()
				cancel()
				if text := strings.TrimSpace(string(out)); text != "" {
					results = append(results, fmt.Sprintf("## %s\n%s", section.title, text))
				}
			}

			if len(results) == 0 {
				return Text("No changed files found (or not a git repository)."), nil
			}
			return Text(strings.Join(results, "\n\n")), nil
		},
	}
}

// runShell executes a command through the shell in the workspace root,
// returning combined output and the exit code.
func runShell(ctx context.Context, tc *Context, command string, timeout time.Duration) (string, int, error) {
	shellCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(shellCtx, "sh", "-c", command)
	cmd.Dir = tc.WorkspaceRoot
	output, err := cmd.CombinedOutput()
	exitCode := cmd.ProcessState.ExitCode()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", 0, fmt.Errorf("run %q: %w", command, err)
		}
	}
	return string(output), exitCode, nil
}
