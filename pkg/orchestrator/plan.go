// Package orchestrator decomposes a goal into worker tasks, dispatches
// them in dependency order over one of two worker transports, and
// summarises the aggregated results.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/schema"
)

// Task is one planned unit of work. DependsOn holds indices of tasks
// whose results feed this task's context; validated dependencies always
// point at smaller indices, so the plan is a DAG by construction.
type Task struct {
	Index      int    `json:"index"`
	WorkerRole string `json:"worker_role"`
	Text       string `json:"task"`
	DependsOn  []int  `json:"depends_on"`
}

// roleExcerptLimit bounds the per-worker system-prompt excerpt shown to
// the planning model.
const roleExcerptLimit = 120

const planningPrompt = `You are the planner for a team of worker agents.

Available workers:
%s

Break the goal below into a short sequence of tasks. Respond with ONLY a JSON array. Each element must be an object with:
  - "worker_role": one of the roles listed above
  - "task": the instruction for that worker
  - "depends_on": array of zero-based indices of earlier tasks whose results this task needs

Goal: %s`

func planningMessage(workers []config.WorkerConfig, goal string) string {
	return fmt.Sprintf(planningPrompt, workersDescription(workers), goal)
}

func workersDescription(workers []config.WorkerConfig) string {
	lines := make([]string, 0, len(workers))
	for _, w := range workers {
		excerpt := w.SystemPrompt
		if len(excerpt) > roleExcerptLimit {
			excerpt = excerpt[:roleExcerptLimit]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", w.Role, excerpt))
	}
	return strings.Join(lines, "\n")
}

// parsePlan decodes the planning reply into tasks. Unknown roles are
// reassigned to the first worker; dependencies that do not point at an
// earlier task are dropped so the scheduler can always make progress.
// Returns nil when no array can be extracted.
func parsePlan(reply string, workers []config.WorkerConfig) []Task {
	elements := schema.ExtractJSONArray(reply)
	if elements == nil {
		return nil
	}

	tasks := make([]Task, 0, len(elements))
	for _, element := range elements {
		obj, ok := element.(map[string]any)
		if !ok {
			continue
		}
		task := Task{Index: len(tasks)}
		task.WorkerRole, _ = obj["worker_role"].(string)
		if !knownRole(workers, task.WorkerRole) {
			task.WorkerRole = workers[0].Role
		}
		task.Text, _ = obj["task"].(string)
		task.DependsOn = dependencyIndices(obj["depends_on"], task.Index)
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil
	}
	return tasks
}

// fallbackPlan assigns the whole goal to the first worker.
func fallbackPlan(workers []config.WorkerConfig, goal string) []Task {
	return []Task{{Index: 0, WorkerRole: workers[0].Role, Text: goal, DependsOn: []int{}}}
}

func knownRole(workers []config.WorkerConfig, role string) bool {
	for _, w := range workers {
		if w.Role == role {
			return true
		}
	}
	return false
}

// dependencyIndices decodes a depends_on value, keeping only indices of
// earlier tasks. Out-of-range or forward references would deadlock the
// queue dispatcher, so they are dropped here rather than at dispatch.
func dependencyIndices(raw any, taskIndex int) []int {
	deps := []int{}
	list, ok := raw.([]any)
	if !ok {
		return deps
	}
	for _, item := range list {
		var dep int
		switch v := item.(type) {
		case float64:
			dep = int(v)
		case int:
			dep = v
		default:
			continue
		}
		if dep >= 0 && dep < taskIndex {
			deps = append(deps, dep)
		}
	}
	return deps
}

// contextKey names a dependency result in a downstream task's context.
func contextKey(role string, index int) string {
	return fmt.Sprintf("result_from_%s_task_%d", role, index)
}
