package scheduler

import (
	"errors"
	"testing"

	"github.com/CipherScout/Ralph/internal/types"
)

func mustAdd(t *testing.T, plan *types.ImplementationPlan, task types.Task) {
	t.Helper()
	if err := plan.AddTask(task); err != nil {
		t.Fatalf("AddTask(%s): %v", task.ID, err)
	}
}

func TestNextTaskEmptyPlan(t *testing.T) {
	plan := types.NewPlan()
	task, demoted := NextTask(plan)
	if task != nil {
		t.Errorf("next = %v, want nil on empty plan", task.ID)
	}
	if demoted != 0 {
		t.Errorf("demoted = %d, want 0", demoted)
	}
}

func TestNextTaskPriorityOrder(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("low", "later", 5))
	mustAdd(t, plan, types.NewTask("high", "first", 1))

	task, _ := NextTask(plan)
	if task == nil || task.ID != "high" {
		t.Fatalf("next = %v, want high", task)
	}
}

// Equal priority: lexicographic id is the stable tie-break.
func TestNextTaskLexicographicTieBreak(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("Y", "second", 1))
	mustAdd(t, plan, types.NewTask("X", "first", 1))

	task, _ := NextTask(plan)
	if task == nil || task.ID != "X" {
		t.Fatalf("next = %v, want X", task)
	}

	if err := task.MarkComplete("done", nil); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	task, _ = NextTask(plan)
	if task == nil || task.ID != "Y" {
		t.Fatalf("next after X = %v, want Y", task)
	}
}

func TestNextTaskHonorsDependencies(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("A", "first", 1))
	b := types.NewTask("B", "second", 2)
	b.Dependencies = []string{"A"}
	mustAdd(t, plan, b)

	task, _ := NextTask(plan)
	if task == nil || task.ID != "A" {
		t.Fatalf("next = %v, want A", task)
	}

	if err := task.MarkComplete("", nil); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	task, _ = NextTask(plan)
	if task == nil || task.ID != "B" {
		t.Fatalf("next = %v, want B once A is complete", task)
	}
}

// Higher-priority task with unmet deps must not shadow a runnable one.
func TestNextTaskSkipsUnrunnableHigherPriority(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("base", "foundation", 3))
	blocked := types.NewTask("top", "needs base", 1)
	blocked.Dependencies = []string{"base"}
	mustAdd(t, plan, blocked)

	task, _ := NextTask(plan)
	if task == nil || task.ID != "base" {
		t.Fatalf("next = %v, want base", task)
	}
}

func TestRetryCapDemotesToBlocked(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("flaky", "keeps failing", 1))

	for i := 0; i < types.MaxTaskRetries; i++ {
		if _, err := IncrementRetry(plan, "flaky"); err != nil {
			t.Fatalf("IncrementRetry: %v", err)
		}
	}

	task, demoted := NextTask(plan)
	if demoted != 1 {
		t.Errorf("demoted = %d, want 1", demoted)
	}
	if task != nil {
		t.Errorf("next = %s, want nil after demotion", task.ID)
	}

	flaky := plan.TaskByID("flaky")
	if flaky.Status != types.StatusBlocked {
		t.Errorf("status = %s, want blocked", flaky.Status)
	}
	if len(flaky.Blockers) == 0 || flaky.Blockers[len(flaky.Blockers)-1] != MaxRetriesReason {
		t.Errorf("blockers = %v, want %q", flaky.Blockers, MaxRetriesReason)
	}
}

func TestRetryBelowCapStaysPending(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("flaky", "failing", 1))

	if _, err := IncrementRetry(plan, "flaky"); err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}
	if _, err := IncrementRetry(plan, "flaky"); err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}

	task, demoted := NextTask(plan)
	if demoted != 0 {
		t.Errorf("demoted = %d, want 0 below the cap", demoted)
	}
	if task == nil || task.ID != "flaky" {
		t.Fatalf("next = %v, want flaky", task)
	}
}

func TestIncrementRetryUnknownTask(t *testing.T) {
	plan := types.NewPlan()
	_, err := IncrementRetry(plan, "ghost")
	if !errors.Is(err, types.ErrUnknownTask) {
		t.Errorf("got %v, want ErrUnknownTask", err)
	}
}

func TestResetStale(t *testing.T) {
	plan := types.NewPlan()
	mustAdd(t, plan, types.NewTask("a", "x", 1))
	if err := plan.TaskByID("a").MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}

	if count := ResetStale(plan); count != 1 {
		t.Errorf("reset = %d, want 1", count)
	}
	if plan.TaskByID("a").Status != types.StatusPending {
		t.Error("stale task must return to pending")
	}
}
