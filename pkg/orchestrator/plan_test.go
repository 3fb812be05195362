package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/hive/pkg/config"
)

func testWorkers() []config.WorkerConfig {
	return []config.WorkerConfig{
		{Role: "coder", SystemPrompt: "You write code."},
		{Role: "reviewer", SystemPrompt: "You review code."},
	}
}

func TestParsePlanValid(t *testing.T) {
	reply := `Here is the plan:
` + "```json" + `
[
  {"worker_role": "coder", "task": "write auth.py", "depends_on": []},
  {"worker_role": "reviewer", "task": "review auth.py", "depends_on": [0]}
]
` + "```"

	tasks := parsePlan(reply, testWorkers())
	require.Len(t, tasks, 2)
	assert.Equal(t, Task{Index: 0, WorkerRole: "coder", Text: "write auth.py", DependsOn: []int{}}, tasks[0])
	assert.Equal(t, Task{Index: 1, WorkerRole: "reviewer", Text: "review auth.py", DependsOn: []int{0}}, tasks[1])
}

func TestParsePlanUnknownRoleReassigned(t *testing.T) {
	reply := `[{"worker_role": "architect", "task": "design it", "depends_on": []}]`
	tasks := parsePlan(reply, testWorkers())
	require.Len(t, tasks, 1)
	assert.Equal(t, "coder", tasks[0].WorkerRole)
}

func TestParsePlanDefaults(t *testing.T) {
	reply := `[{"worker_role": "coder"}]`
	tasks := parsePlan(reply, testWorkers())
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Text)
	assert.Empty(t, tasks[0].DependsOn)
}

func TestParsePlanDropsInvalidDependencies(t *testing.T) {
	reply := `[
		{"worker_role": "coder", "task": "a", "depends_on": [3]},
		{"worker_role": "reviewer", "task": "b", "depends_on": [-1, 0, 1, 99]}
	]`
	tasks := parsePlan(reply, testWorkers())
	require.Len(t, tasks, 2)
	// Forward and out-of-range references would deadlock the scheduler.
	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, []int{0}, tasks[1].DependsOn)
}

func TestParsePlanSkipsNonObjects(t *testing.T) {
	reply := `["just a string", {"worker_role": "coder", "task": "real one"}]`
	tasks := parsePlan(reply, testWorkers())
	require.Len(t, tasks, 1)
	assert.Equal(t, "real one", tasks[0].Text)
}

func TestParsePlanNoArray(t *testing.T) {
	assert.Nil(t, parsePlan("I cannot produce a plan for that.", testWorkers()))
	assert.Nil(t, parsePlan("[]", testWorkers()))
}

func TestFallbackPlan(t *testing.T) {
	tasks := fallbackPlan(testWorkers(), "do everything")
	require.Len(t, tasks, 1)
	assert.Equal(t, "coder", tasks[0].WorkerRole)
	assert.Equal(t, "do everything", tasks[0].Text)
}

func TestWorkersDescriptionTruncatesPrompts(t *testing.T) {
	workers := []config.WorkerConfig{
		{Role: "coder", SystemPrompt: strings.Repeat("x", 200)},
		{Role: "tester", SystemPrompt: "short"},
	}
	desc := workersDescription(workers)
	lines := strings.Split(desc, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "- coder: "+strings.Repeat("x", roleExcerptLimit), lines[0])
	assert.Equal(t, "- tester: short", lines[1])
}

func TestPlanningMessageIncludesGoalAndWorkers(t *testing.T) {
	msg := planningMessage(testWorkers(), "ship the feature")
	assert.Contains(t, msg, "- coder: You write code.")
	assert.Contains(t, msg, "- reviewer: You review code.")
	assert.Contains(t, msg, "Goal: ship the feature")
	assert.Contains(t, msg, `"depends_on"`)
}

func TestContextKey(t *testing.T) {
	assert.Equal(t, "result_from_coder_task_0", contextKey("coder", 0))
}
