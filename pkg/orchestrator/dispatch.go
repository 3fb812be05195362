package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/agenthive/hive/pkg/worker"
)

// queueResultTimeout bounds the wait for one batch of queue-transport
// results.
const queueResultTimeout = 300 * time.Second

// TaskResult is the outcome of one scheduled task. Errors and skips are
// recorded here, never surfaced as Go errors to the pipeline.
type TaskResult struct {
	Index       int            `json:"index"`
	WorkerRole  string         `json:"worker_role"`
	Status      string         `json:"status"`
	Result      string         `json:"result"`
	AgentRounds int            `json:"agent_rounds,omitempty"`
	Structured  map[string]any `json:"structured_reply,omitempty"`
	Warnings    []string       `json:"validation_warnings,omitempty"`
}

// assignment pairs a ready task with the context built from its
// dependencies' results.
type assignment struct {
	task        Task
	contextData map[string]any
}

// dispatcher runs one batch of ready tasks and returns their results
// keyed by task index.
type dispatcher interface {
	dispatch(ctx context.Context, batch []assignment) map[int]TaskResult
}

// schedule runs tasks in dependency order: repeatedly dispatch every
// pending task whose dependencies have completed, feeding each task a
// context keyed by result_from_{role}_task_{i}. Tasks that never become
// ready are reported as skipped.
func schedule(ctx context.Context, tasks []Task, d dispatcher) []TaskResult {
	pending := make(map[int]Task, len(tasks))
	for _, task := range tasks {
		pending[task.Index] = task
	}
	completed := make(map[int]TaskResult, len(tasks))

	for len(pending) > 0 {
		ready := readyTasks(pending, completed)
		if len(ready) == 0 {
			break
		}

		batch := make([]assignment, 0, len(ready))
		for _, task := range ready {
			delete(pending, task.Index)
			batch = append(batch, assignment{
				task:        task,
				contextData: dependencyContext(task, tasks, completed),
			})
		}
		for index, result := range d.dispatch(ctx, batch) {
			completed[index] = result
		}
		// A dispatcher that loses results (worker death, timeout) would
		// stall the loop; fill the holes as errors.
		for _, a := range batch {
			if _, ok := completed[a.task.Index]; !ok {
				completed[a.task.Index] = TaskResult{
					Index:      a.task.Index,
					WorkerRole: a.task.WorkerRole,
					Status:     "error",
					Result:     "no result received",
				}
			}
		}
	}

	results := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if result, ok := completed[task.Index]; ok {
			results = append(results, result)
			continue
		}
		results = append(results, TaskResult{
			Index:      task.Index,
			WorkerRole: task.WorkerRole,
			Status:     "skipped",
			Result:     "Not executed",
		})
	}
	return results
}

func readyTasks(pending map[int]Task, completed map[int]TaskResult) []Task {
	var ready []Task
	for _, task := range pending {
		ok := true
		for _, dep := range task.DependsOn {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, task)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Index < ready[j].Index })
	return ready
}

func dependencyContext(task Task, tasks []Task, completed map[int]TaskResult) map[string]any {
	if len(task.DependsOn) == 0 {
		return nil
	}
	contextData := make(map[string]any, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		contextData[contextKey(tasks[dep].WorkerRole, dep)] = completed[dep].Result
	}
	return contextData
}

// taskExecutor abstracts the subprocess worker handle for the parallel
// dispatcher. *worker.MCPWorker implements it.
type taskExecutor interface {
	Role() string
	ExecuteTask(ctx context.Context, prompt string, contextData, structured map[string]any) worker.TaskOutcome
}

// parallelDispatcher runs each ready task in its own goroutine against
// the role's subprocess worker and waits for the whole batch.
type parallelDispatcher struct {
	executors map[string]taskExecutor
	onEvent   func(string)
	logger    *slog.Logger
}

func (d *parallelDispatcher) dispatch(ctx context.Context, batch []assignment) map[int]TaskResult {
	var (
		mu      sync.Mutex
		results = make(map[int]TaskResult, len(batch))
		wg      sync.WaitGroup
	)
	for _, a := range batch {
		wg.Add(1)
		go func(a assignment) {
			defer wg.Done()
			result := d.execute(ctx, a)
			mu.Lock()
			results[a.task.Index] = result
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return results
}

func (d *parallelDispatcher) execute(ctx context.Context, a assignment) TaskResult {
	emit(d.onEvent, fmt.Sprintf("Task %d → %s: %s", a.task.Index, a.task.WorkerRole, a.task.Text))

	executor, ok := d.executors[a.task.WorkerRole]
	if !ok {
		return TaskResult{
			Index:      a.task.Index,
			WorkerRole: a.task.WorkerRole,
			Status:     "error",
			Result:     fmt.Sprintf("no worker for role %q", a.task.WorkerRole),
		}
	}

	outcome := executor.ExecuteTask(ctx, a.task.Text, a.contextData, nil)
	return outcomeToResult(a.task, outcome)
}

// queueDispatcher posts assignments to each role's inbox and drains the
// shared outbox until every dispatched task has a terminal result.
type queueDispatcher struct {
	workers map[string]*worker.QueueWorker
	outbox  <-chan worker.Message
	onEvent func(string)
	logger  *slog.Logger
	timeout time.Duration

	// failed records workers whose loop died during an earlier batch, so
	// later batches fail their tasks immediately instead of waiting out
	// the result timeout on an inbox nobody drains.
	failed map[string]string
}

func (d *queueDispatcher) dispatch(ctx context.Context, batch []assignment) map[int]TaskResult {
	results := make(map[int]TaskResult, len(batch))
	outstanding := make(map[string]Task, len(batch))

	for _, a := range batch {
		emit(d.onEvent, fmt.Sprintf("Task %d → %s: %s", a.task.Index, a.task.WorkerRole, a.task.Text))

		w, ok := d.workers[a.task.WorkerRole]
		if !ok {
			results[a.task.Index] = TaskResult{
				Index:      a.task.Index,
				WorkerRole: a.task.WorkerRole,
				Status:     "error",
				Result:     fmt.Sprintf("no worker for role %q", a.task.WorkerRole),
			}
			continue
		}
		if reason, dead := d.failed[a.task.WorkerRole]; dead {
			results[a.task.Index] = TaskResult{
				Index:      a.task.Index,
				WorkerRole: a.task.WorkerRole,
				Status:     "error",
				Result:     "worker failed to initialize: " + reason,
			}
			continue
		}
		taskID := strconv.Itoa(a.task.Index)
		outstanding[taskID] = a.task
		w.Assign(worker.Message{
			Kind:    worker.MsgTaskAssign,
			TaskID:  taskID,
			Prompt:  a.task.Text,
			Context: a.contextData,
		})
	}

	timeout := d.timeout
	if timeout <= 0 {
		timeout = queueResultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(outstanding) > 0 {
		select {
		case msg := <-d.outbox:
			switch msg.Kind {
			case worker.MsgTaskProgress:
				emit(d.onEvent, msg.Message)

			case worker.MsgTaskResult:
				if msg.TaskID == worker.InitTaskID {
					d.failWorkerTasks(msg, outstanding, results)
					continue
				}
				task, ok := outstanding[msg.TaskID]
				if !ok {
					d.logger.Warn("Result for unknown task", "task_id", msg.TaskID)
					continue
				}
				delete(outstanding, msg.TaskID)
				results[task.Index] = TaskResult{
					Index:       task.Index,
					WorkerRole:  task.WorkerRole,
					Status:      msg.Status,
					Result:      msg.Result,
					AgentRounds: msg.AgentRounds,
					Structured:  msg.Structured,
					Warnings:    msg.Warnings,
				}
			}

		case <-deadline.C:
			d.failOutstanding(outstanding, results, "timed out waiting for worker")
			return results

		case <-ctx.Done():
			d.failOutstanding(outstanding, results, ctx.Err().Error())
			return results
		}
	}
	return results
}

// failWorkerTasks marks every outstanding task assigned to a worker that
// failed to initialize and remembers the worker as dead for later batches.
func (d *queueDispatcher) failWorkerTasks(msg worker.Message, outstanding map[string]Task, results map[int]TaskResult) {
	d.logger.Error("Worker failed to initialize", "worker", msg.WorkerID, "error", msg.Result)
	if d.failed == nil {
		d.failed = make(map[string]string)
	}
	d.failed[msg.WorkerID] = msg.Result
	for taskID, task := range outstanding {
		if task.WorkerRole != msg.WorkerID {
			continue
		}
		delete(outstanding, taskID)
		results[task.Index] = TaskResult{
			Index:      task.Index,
			WorkerRole: task.WorkerRole,
			Status:     "error",
			Result:     "worker failed to initialize: " + msg.Result,
		}
	}
}

func (d *queueDispatcher) failOutstanding(outstanding map[string]Task, results map[int]TaskResult, reason string) {
	for taskID, task := range outstanding {
		delete(outstanding, taskID)
		results[task.Index] = TaskResult{
			Index:      task.Index,
			WorkerRole: task.WorkerRole,
			Status:     "error",
			Result:     reason,
		}
	}
}

func outcomeToResult(task Task, outcome worker.TaskOutcome) TaskResult {
	result := TaskResult{
		Index:       task.Index,
		WorkerRole:  task.WorkerRole,
		Status:      outcome.Status,
		Result:      outcome.Reply,
		AgentRounds: outcome.AgentRoundsCount,
		Structured:  outcome.StructuredReply,
		Warnings:    outcome.ValidationWarnings,
	}
	if outcome.Status == "error" {
		result.Result = outcome.Error
	}
	return result
}

func emit(onEvent func(string), message string) {
	if onEvent != nil {
		onEvent(message)
	}
}
