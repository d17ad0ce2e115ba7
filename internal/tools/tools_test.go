package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/types"
)

func newTestSurface(t *testing.T) (*Surface, *state.Store) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	_, err := store.InitializeState()
	require.NoError(t, err)
	_, err = store.InitializePlan()
	require.NoError(t, err)
	return NewSurface(store), store
}

func addTask(t *testing.T, s *Surface, id string, priority int, deps ...string) {
	t.Helper()
	result, err := s.Dispatch(AddTask{
		TaskID:      id,
		Description: "task " + id,
		Priority:    priority,
		Dependencies: deps,
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
}

func TestGetNextTaskSentinel(t *testing.T) {
	s, _ := newTestSurface(t)
	result, err := s.Dispatch(GetNextTask{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Contains(t, result.Content, "No tasks available")
	require.Nil(t, result.Data["task"])
}

func TestAddAndGetNextTask(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "auth-01", 1)
	addTask(t, s, "auth-02", 2, "auth-01")

	result, err := s.Dispatch(GetNextTask{})
	require.NoError(t, err)
	require.True(t, result.Success)
	task := result.Data["task"].(map[string]any)
	require.Equal(t, "auth-01", task["id"])
}

func TestAddTaskRejections(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "a", 1)

	// Duplicate id.
	result, err := s.Dispatch(AddTask{TaskID: "a", Description: "again", Priority: 1})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "duplicate task id")

	// Unknown dependency.
	result, err = s.Dispatch(AddTask{TaskID: "b", Description: "x", Priority: 1, Dependencies: []string{"ghost"}})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "unknown dependency")

	// Self-dependency is a cycle.
	result, err = s.Dispatch(AddTask{TaskID: "c", Description: "x", Priority: 1, Dependencies: []string{"c"}})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "cycle introduced")

	// Empty description.
	result, err = s.Dispatch(AddTask{TaskID: "d", Description: "  ", Priority: 1})
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestAddTaskValidatesID(t *testing.T) {
	s, _ := newTestSurface(t)

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "auth 01"},
		{"slash", "auth/01"},
		{"dots", "auth.01"},
		{"unicode", "tâche-1"},
		{"too long", strings.Repeat("a", MaxTaskIDLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.Dispatch(AddTask{TaskID: tt.id, Description: "x", Priority: 1})
			require.NoError(t, err)
			require.False(t, result.Success)
			require.Equal(t, "invalid task_id", result.Content)
		})
	}

	// The full legal charset is accepted.
	result, err := s.Dispatch(AddTask{TaskID: "Auth_01-setup", Description: "x", Priority: 1})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
}

func TestAddTaskValidatesPriority(t *testing.T) {
	s, _ := newTestSurface(t)

	for _, priority := range []int{0, -1, MaxPriority + 1} {
		result, err := s.Dispatch(AddTask{TaskID: "a", Description: "x", Priority: priority})
		require.NoError(t, err)
		require.False(t, result.Success, "priority %d must be rejected", priority)
		require.Equal(t, "invalid priority", result.Content)
	}

	// The boundaries themselves are legal.
	result, err := s.Dispatch(AddTask{TaskID: "lowest", Description: "x", Priority: 1})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	result, err = s.Dispatch(AddTask{TaskID: "highest", Description: "x", Priority: MaxPriority})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
}

func TestTaskLifecycleViaTools(t *testing.T) {
	s, store := newTestSurface(t)
	addTask(t, s, "a", 1)

	result, err := s.Dispatch(MarkTaskInProgress{TaskID: "a"})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)

	tokens := 500
	result, err = s.Dispatch(MarkTaskComplete{TaskID: "a", Notes: "tested", TokensUsed: &tokens})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)

	plan, err := store.LoadPlan()
	require.NoError(t, err)
	task := plan.TaskByID("a")
	require.Equal(t, types.StatusComplete, task.Status)
	require.Equal(t, "tested", task.CompletionNotes)
	require.NotNil(t, task.CompletedAt)
}

// Completing a completed task is an invalid transition, reported as a
// structured tool failure.
func TestMarkCompleteTwice(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "a", 1)

	result, err := s.Dispatch(MarkTaskComplete{TaskID: "a"})
	require.NoError(t, err)
	require.True(t, result.Success)

	result, err = s.Dispatch(MarkTaskComplete{TaskID: "a"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "invalid transition")
}

func TestUnknownTaskFailures(t *testing.T) {
	s, _ := newTestSurface(t)

	for _, req := range []Request{
		MarkTaskComplete{TaskID: "ghost"},
		MarkTaskBlocked{TaskID: "ghost", Reason: "r"},
		MarkTaskInProgress{TaskID: "ghost"},
		IncrementRetry{TaskID: "ghost"},
	} {
		result, err := s.Dispatch(req)
		require.NoError(t, err, "%T", req)
		require.False(t, result.Success, "%T", req)
		require.Contains(t, result.Error, "unknown task", "%T", req)
	}
}

func TestMarkBlockedRequiresReason(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "a", 1)

	result, err := s.Dispatch(MarkTaskBlocked{TaskID: "a", Reason: "  "})
	require.NoError(t, err)
	require.False(t, result.Success)

	result, err = s.Dispatch(MarkTaskBlocked{TaskID: "a", Reason: "upstream api down"})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestIncrementRetryTool(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "a", 1)

	result, err := s.Dispatch(IncrementRetry{TaskID: "a"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Data["retry_count"])
}

func TestAppendLearningValidation(t *testing.T) {
	s, _ := newTestSurface(t)

	result, err := s.Dispatch(AppendLearning{Learning: ""})
	require.NoError(t, err)
	require.False(t, result.Success)

	result, err = s.Dispatch(AppendLearning{Learning: "prefer fakes over mocks", Category: "testing"})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestGetPlanSummary(t *testing.T) {
	s, _ := newTestSurface(t)
	addTask(t, s, "a", 1)
	addTask(t, s, "b", 2)

	result, err := s.Dispatch(MarkTaskComplete{TaskID: "a"})
	require.NoError(t, err)
	require.True(t, result.Success)

	result, err = s.Dispatch(GetPlanSummary{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.Data["total_tasks"])
	require.Equal(t, 1, result.Data["complete"])
	next := result.Data["next_task"].(map[string]any)
	require.Equal(t, "b", next["id"])
}

func TestGetStateSummary(t *testing.T) {
	s, _ := newTestSurface(t)
	result, err := s.Dispatch(GetStateSummary{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, types.PhaseDiscovery.String(), result.Data["phase"])
	cb := result.Data["circuit_breaker"].(map[string]any)
	require.Equal(t, types.CircuitClosed.String(), cb["state"])
}

func TestSignalPhaseComplete(t *testing.T) {
	s, store := newTestSurface(t)

	// Signaling a phase other than the current one fails.
	result, err := s.Dispatch(SignalPhaseComplete{Phase: "building"})
	require.NoError(t, err)
	require.False(t, result.Success)

	result, err = s.Dispatch(SignalPhaseComplete{Phase: "discovery", Summary: "specs done"})
	require.NoError(t, err)
	require.True(t, result.Success)

	st, err := store.LoadState()
	require.NoError(t, err)
	require.True(t, st.IsPhaseSignaled(types.PhaseDiscovery))
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(NameMarkTaskComplete, json.RawMessage(`{"task_id":"a","verification_notes":"ok"}`))
	require.NoError(t, err)
	complete, ok := req.(MarkTaskComplete)
	require.True(t, ok)
	require.Equal(t, "a", complete.TaskID)
	require.Equal(t, "ok", complete.Notes)

	req, err = ParseRequest(NameGetNextTask, nil)
	require.NoError(t, err)
	require.IsType(t, GetNextTask{}, req)

	_, err = ParseRequest("ralph_unknown_tool", nil)
	require.Error(t, err)
}
