// Package scheduler selects the next runnable task from the plan.
// Selection is fully deterministic: same plan in, same task out.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/CipherScout/Ralph/internal/types"
)

// MaxRetriesReason is the block reason stamped on tasks that burned
// their retry budget.
const MaxRetriesReason = "max retries exceeded"

// NextTask returns the runnable task with the lowest (priority, id),
// or nil when no task is runnable. Tasks whose retry count has hit the
// cap are demoted to blocked instead of being selected; the demotion
// mutates the plan, so callers that receive a positive demoted count
// must persist it.
func NextTask(plan *types.ImplementationPlan) (*types.Task, int) {
	demoted := demoteExhausted(plan)

	runnable := plan.RunnableTasks()
	if len(runnable) == 0 {
		return nil, demoted
	}
	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority < runnable[j].Priority
		}
		return runnable[i].ID < runnable[j].ID
	})
	return runnable[0], demoted
}

// demoteExhausted blocks every non-complete task at or over the retry
// cap and returns how many were demoted.
func demoteExhausted(plan *types.ImplementationPlan) int {
	demoted := 0
	for i := range plan.Tasks {
		task := &plan.Tasks[i]
		if task.Status == types.StatusComplete || task.Status == types.StatusBlocked {
			continue
		}
		if task.ExceededRetries() {
			if task.Status == types.StatusInProgress {
				task.Status = types.StatusPending
			}
			if err := task.MarkBlocked(MaxRetriesReason); err == nil {
				demoted++
			}
		}
	}
	if demoted > 0 {
		plan.LastModified = types.Now()
	}
	return demoted
}

// IncrementRetry records an iteration failure against a task. The task
// returns to pending for another attempt; once the retry cap is hit
// the next NextTask call blocks it.
func IncrementRetry(plan *types.ImplementationPlan, taskID string) (int, error) {
	task := plan.TaskByID(taskID)
	if task == nil {
		return 0, fmt.Errorf("task %s: %w", taskID, types.ErrUnknownTask)
	}
	task.IncrementRetry()
	plan.LastModified = types.Now()
	return task.RetryCount, nil
}

// ResetStale demotes in_progress tasks to pending at session start.
func ResetStale(plan *types.ImplementationPlan) int {
	return plan.ResetStaleInProgress()
}
