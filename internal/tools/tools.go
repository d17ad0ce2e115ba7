// Package tools is the orchestrator-owned mutator surface: the only
// way the executor changes persistent state. Each tool call loads the
// latest snapshot, applies a pure transition, persists atomically and
// returns a structured result. Free-form tool input is parsed into a
// tagged variant before dispatch; no dynamic lookup happens after that.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/CipherScout/Ralph/internal/scheduler"
	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/types"
)

// Input limits enforced before any state is touched.
const (
	MaxDescriptionLength = 2000
	MaxLearningLength    = 2000
	MaxReasonLength      = 1000
	MaxTaskIDLength      = 100
	MaxPriority          = 1000
)

// taskIDPattern constrains ids to filename- and prompt-safe characters.
var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateTaskID checks charset and length before an id enters the plan.
func validateTaskID(id string) error {
	if id == "" {
		return errors.New("task_id cannot be empty")
	}
	if len(id) > MaxTaskIDLength {
		return fmt.Errorf("task_id too long (max %d chars)", MaxTaskIDLength)
	}
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("task_id %q: only letters, digits, hyphen and underscore allowed", id)
	}
	return nil
}

// Tool names as the executor sees them.
const (
	NameGetNextTask         = "ralph_get_next_task"
	NameMarkTaskComplete    = "ralph_mark_task_complete"
	NameMarkTaskBlocked     = "ralph_mark_task_blocked"
	NameMarkTaskInProgress  = "ralph_mark_task_in_progress"
	NameIncrementRetry      = "ralph_increment_retry"
	NameAppendLearning      = "ralph_append_learning"
	NameAddTask             = "ralph_add_task"
	NameGetPlanSummary      = "ralph_get_plan_summary"
	NameGetStateSummary     = "ralph_get_state_summary"
	NameSignalPhaseComplete = "ralph_signal_phase_complete"
)

// Names lists every tool the surface exposes.
func Names() []string {
	return []string{
		NameGetNextTask, NameMarkTaskComplete, NameMarkTaskBlocked,
		NameMarkTaskInProgress, NameIncrementRetry, NameAppendLearning,
		NameAddTask, NameGetPlanSummary, NameGetStateSummary,
		NameSignalPhaseComplete,
	}
}

// Result is the structured outcome of one tool call. Data-model
// violations come back as Success=false with Error set; they are tool
// failures for the executor, never orchestrator crashes.
type Result struct {
	Success bool           `json:"success"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func failure(content string, err error) Result {
	return Result{Success: false, Content: content, Error: err.Error()}
}

// Request is a tagged tool-call variant carrying its validated payload.
type Request interface {
	ToolName() string
}

// GetNextTask asks the scheduler for the next runnable task.
type GetNextTask struct{}

// MarkTaskComplete transitions a task to complete.
type MarkTaskComplete struct {
	TaskID     string `json:"task_id"`
	Notes      string `json:"verification_notes,omitempty"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

// MarkTaskBlocked transitions a task to blocked.
type MarkTaskBlocked struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// MarkTaskInProgress transitions pending -> in_progress.
type MarkTaskInProgress struct {
	TaskID string `json:"task_id"`
}

// IncrementRetry records a failed attempt against a task.
type IncrementRetry struct {
	TaskID string `json:"task_id"`
}

// AppendLearning appends one line to the progress log.
type AppendLearning struct {
	Learning string `json:"learning"`
	Category string `json:"category,omitempty"`
}

// AddTask inserts a new task into the plan.
type AddTask struct {
	TaskID               string   `json:"task_id"`
	Description          string   `json:"description"`
	Priority             int      `json:"priority"`
	Dependencies         []string `json:"dependencies,omitempty"`
	VerificationCriteria []string `json:"verification_criteria,omitempty"`
	SpecFiles            []string `json:"spec_files,omitempty"`
	EstimatedTokens      int      `json:"estimated_tokens,omitempty"`
}

// GetPlanSummary returns plan counts and the next runnable task.
type GetPlanSummary struct{}

// GetStateSummary returns phase, iteration, costs and breaker state.
type GetStateSummary struct{}

// SignalPhaseComplete records the executor's phase-completion signal.
type SignalPhaseComplete struct {
	Phase   string `json:"phase"`
	Summary string `json:"summary,omitempty"`
}

// ToolName implementations for the dispatcher.
func (GetNextTask) ToolName() string         { return NameGetNextTask }
func (MarkTaskComplete) ToolName() string    { return NameMarkTaskComplete }
func (MarkTaskBlocked) ToolName() string     { return NameMarkTaskBlocked }
func (MarkTaskInProgress) ToolName() string  { return NameMarkTaskInProgress }
func (IncrementRetry) ToolName() string      { return NameIncrementRetry }
func (AppendLearning) ToolName() string      { return NameAppendLearning }
func (AddTask) ToolName() string             { return NameAddTask }
func (GetPlanSummary) ToolName() string      { return NameGetPlanSummary }
func (GetStateSummary) ToolName() string     { return NameGetStateSummary }
func (SignalPhaseComplete) ToolName() string { return NameSignalPhaseComplete }

// ParseRequest converts a named tool call with free-form JSON input
// into its typed variant.
func ParseRequest(toolName string, input json.RawMessage) (Request, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	decode := func(target any) error {
		return json.Unmarshal(input, target)
	}

	switch toolName {
	case NameGetNextTask:
		return GetNextTask{}, nil
	case NameMarkTaskComplete:
		var req MarkTaskComplete
		return req, decode(&req)
	case NameMarkTaskBlocked:
		var req MarkTaskBlocked
		return req, decode(&req)
	case NameMarkTaskInProgress:
		var req MarkTaskInProgress
		return req, decode(&req)
	case NameIncrementRetry:
		var req IncrementRetry
		return req, decode(&req)
	case NameAppendLearning:
		var req AppendLearning
		return req, decode(&req)
	case NameAddTask:
		var req AddTask
		return req, decode(&req)
	case NameGetPlanSummary:
		return GetPlanSummary{}, nil
	case NameGetStateSummary:
		return GetStateSummary{}, nil
	case NameSignalPhaseComplete:
		var req SignalPhaseComplete
		return req, decode(&req)
	}
	return nil, fmt.Errorf("unknown tool: %s", toolName)
}

// Surface executes tool requests against the store.
type Surface struct {
	store *state.Store
}

// NewSurface creates a tool surface over the given store.
func NewSurface(store *state.Store) *Surface {
	return &Surface{store: store}
}

// Dispatch routes a typed request to its handler. The returned error
// is infrastructure-level only (persistence); data-model violations
// are reported inside the Result.
func (s *Surface) Dispatch(req Request) (Result, error) {
	switch r := req.(type) {
	case GetNextTask:
		return s.getNextTask()
	case MarkTaskComplete:
		return s.markTaskComplete(r)
	case MarkTaskBlocked:
		return s.markTaskBlocked(r)
	case MarkTaskInProgress:
		return s.markTaskInProgress(r)
	case IncrementRetry:
		return s.incrementRetry(r)
	case AppendLearning:
		return s.appendLearning(r)
	case AddTask:
		return s.addTask(r)
	case GetPlanSummary:
		return s.getPlanSummary()
	case GetStateSummary:
		return s.getStateSummary()
	case SignalPhaseComplete:
		return s.signalPhaseComplete(r)
	}
	return Result{}, fmt.Errorf("unhandled request type %T", req)
}

func (s *Surface) getNextTask() (Result, error) {
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}
	task, demoted := scheduler.NextTask(plan)
	if demoted > 0 {
		if err := s.store.SavePlan(plan); err != nil {
			return Result{}, err
		}
	}

	if task == nil {
		return Result{
			Success: true,
			Content: "No tasks available. All tasks may be complete or blocked.",
			Data:    map[string]any{"task": nil, "remaining_count": plan.PendingCount()},
		}, nil
	}
	return Result{
		Success: true,
		Content: fmt.Sprintf("Next task: %s", task.Description),
		Data: map[string]any{
			"task": map[string]any{
				"id":                    task.ID,
				"description":           task.Description,
				"priority":              task.Priority,
				"status":                task.Status.String(),
				"dependencies":          task.Dependencies,
				"verification_criteria": task.VerificationCriteria,
				"estimated_tokens":      task.EstimatedTokens,
				"retry_count":           task.RetryCount,
			},
			"remaining_count": plan.PendingCount(),
		},
	}, nil
}

func (s *Surface) markTaskComplete(req MarkTaskComplete) (Result, error) {
	if req.TaskID == "" {
		return failure("task_id is required", types.ErrUnknownTask), nil
	}
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	task := plan.TaskByID(req.TaskID)
	if task == nil {
		return failure(fmt.Sprintf("Task not found: %s", req.TaskID), types.ErrUnknownTask), nil
	}
	if err := task.MarkComplete(req.Notes, req.TokensUsed); err != nil {
		return failure(fmt.Sprintf("Cannot complete task %s", req.TaskID), err), nil
	}
	plan.LastModified = types.Now()

	// Session counters are owned by the post-iteration bookkeeping,
	// which detects the completion by diffing plan status.
	if err := s.store.SavePlan(plan); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Task completed: %s", req.TaskID),
		Data: map[string]any{
			"task_id":               req.TaskID,
			"completion_percentage": plan.CompletionPercentage(),
			"remaining_tasks":       plan.PendingCount(),
		},
	}, nil
}

func (s *Surface) markTaskBlocked(req MarkTaskBlocked) (Result, error) {
	if req.TaskID == "" {
		return failure("task_id is required", types.ErrUnknownTask), nil
	}
	if strings.TrimSpace(req.Reason) == "" {
		return failure("reason is required", errors.New("reason cannot be empty")), nil
	}
	if len(req.Reason) > MaxReasonLength {
		return failure("reason too long", fmt.Errorf("reason exceeds %d chars", MaxReasonLength)), nil
	}
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	task := plan.TaskByID(req.TaskID)
	if task == nil {
		return failure(fmt.Sprintf("Task not found: %s", req.TaskID), types.ErrUnknownTask), nil
	}
	if err := task.MarkBlocked(req.Reason); err != nil {
		return failure(fmt.Sprintf("Cannot block task %s", req.TaskID), err), nil
	}
	plan.LastModified = types.Now()
	if err := s.store.SavePlan(plan); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Task blocked: %s - %s", req.TaskID, req.Reason),
		Data: map[string]any{
			"task_id":         req.TaskID,
			"reason":          req.Reason,
			"remaining_tasks": plan.PendingCount(),
		},
	}, nil
}

func (s *Surface) markTaskInProgress(req MarkTaskInProgress) (Result, error) {
	if req.TaskID == "" {
		return failure("task_id is required", types.ErrUnknownTask), nil
	}
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	task := plan.TaskByID(req.TaskID)
	if task == nil {
		return failure(fmt.Sprintf("Task not found: %s", req.TaskID), types.ErrUnknownTask), nil
	}
	if err := task.MarkInProgress(); err != nil {
		return failure(fmt.Sprintf("Cannot start task %s (status: %s)", req.TaskID, task.Status), err), nil
	}
	plan.LastModified = types.Now()
	if err := s.store.SavePlan(plan); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Task started: %s", req.TaskID),
		Data:    map[string]any{"task_id": req.TaskID, "status": types.StatusInProgress.String()},
	}, nil
}

func (s *Surface) incrementRetry(req IncrementRetry) (Result, error) {
	if req.TaskID == "" {
		return failure("task_id is required", types.ErrUnknownTask), nil
	}
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	count, err := scheduler.IncrementRetry(plan, req.TaskID)
	if err != nil {
		return failure(fmt.Sprintf("Task not found: %s", req.TaskID), err), nil
	}
	if err := s.store.SavePlan(plan); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Retry count incremented for: %s", req.TaskID),
		Data:    map[string]any{"task_id": req.TaskID, "retry_count": count},
	}, nil
}

func (s *Surface) appendLearning(req AppendLearning) (Result, error) {
	learning := strings.TrimSpace(req.Learning)
	if learning == "" {
		return failure("learning cannot be empty", errors.New("learning cannot be empty")), nil
	}
	if len(learning) > MaxLearningLength {
		return failure("learning too long", fmt.Errorf("learning exceeds %d chars", MaxLearningLength)), nil
	}
	category := req.Category
	if category == "" {
		category = "pattern"
	}

	if err := s.store.AppendLearning(learning, category); err != nil {
		return Result{}, err
	}
	return Result{
		Success: true,
		Content: "Learning recorded",
		Data:    map[string]any{"category": category},
	}, nil
}

func (s *Surface) addTask(req AddTask) (Result, error) {
	if err := validateTaskID(req.TaskID); err != nil {
		return failure("invalid task_id", err), nil
	}
	if strings.TrimSpace(req.Description) == "" {
		return failure("description cannot be empty", errors.New("description cannot be empty")), nil
	}
	if len(req.Description) > MaxDescriptionLength {
		return failure("description too long", fmt.Errorf("description exceeds %d chars", MaxDescriptionLength)), nil
	}
	if req.Priority < 1 || req.Priority > MaxPriority {
		return failure("invalid priority",
			fmt.Errorf("priority must be between 1 and %d, got %d", MaxPriority, req.Priority)), nil
	}

	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	task := types.NewTask(req.TaskID, strings.TrimSpace(req.Description), req.Priority)
	if len(req.Dependencies) > 0 {
		task.Dependencies = req.Dependencies
	}
	if len(req.VerificationCriteria) > 0 {
		task.VerificationCriteria = req.VerificationCriteria
	}
	task.SpecFiles = req.SpecFiles
	if req.EstimatedTokens > 0 {
		task.EstimatedTokens = req.EstimatedTokens
	}

	if err := plan.AddTask(task); err != nil {
		return failure(fmt.Sprintf("Cannot add task %s", req.TaskID), err), nil
	}
	if err := s.store.SavePlan(plan); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Task added: %s", req.TaskID),
		Data:    map[string]any{"task_id": req.TaskID, "total_tasks": len(plan.Tasks)},
	}, nil
}

func (s *Surface) getPlanSummary() (Result, error) {
	plan, err := s.store.LoadPlan()
	if err != nil {
		return Result{}, err
	}

	summary := map[string]any{
		"total_tasks":           len(plan.Tasks),
		"complete":              plan.CompleteCount(),
		"pending":               plan.PendingCount(),
		"blocked":               plan.BlockedCount(),
		"in_progress":           plan.InProgressCount(),
		"completion_percentage": plan.CompletionPercentage(),
		"created_at":            plan.CreatedAt.Format(types.TimeLayout),
		"last_modified":         plan.LastModified.Format(types.TimeLayout),
	}

	lines := []string{
		fmt.Sprintf("Tasks: %d/%d complete (%.0f%%)",
			plan.CompleteCount(), len(plan.Tasks), plan.CompletionPercentage()*100),
		fmt.Sprintf("Pending: %d, Blocked: %d, In Progress: %d",
			plan.PendingCount(), plan.BlockedCount(), plan.InProgressCount()),
	}

	if next, _ := scheduler.NextTask(plan); next != nil {
		summary["next_task"] = map[string]any{
			"id":          next.ID,
			"description": next.Description,
			"priority":    next.Priority,
		}
		lines = append(lines, fmt.Sprintf("Next: %s", next.Description))
	}

	return Result{Success: true, Content: strings.Join(lines, "\n"), Data: summary}, nil
}

func (s *Surface) getStateSummary() (Result, error) {
	st, err := s.store.LoadState()
	if err != nil {
		return Result{}, err
	}

	shouldHalt, haltReason := st.ShouldHalt()
	summary := map[string]any{
		"phase":                        st.CurrentPhase.String(),
		"iteration":                    st.IterationCount,
		"session_id":                   st.SessionID,
		"total_cost_usd":               st.TotalCostUSD,
		"session_cost_usd":             st.SessionCostUSD,
		"total_tokens":                 st.TotalTokensUsed,
		"session_tokens":               st.SessionTokensUsed,
		"tasks_completed_this_session": st.TasksCompletedThisSession,
		"circuit_breaker": map[string]any{
			"state":            st.CircuitBreaker.State.String(),
			"failure_count":    st.CircuitBreaker.FailureCount,
			"stagnation_count": st.CircuitBreaker.StagnationCount,
		},
		"should_halt": shouldHalt,
	}
	if haltReason != "" {
		summary["halt_reason"] = haltReason
	}

	lines := []string{
		fmt.Sprintf("Phase: %s, Iteration: %d", st.CurrentPhase, st.IterationCount),
		fmt.Sprintf("Session tasks: %d, Cost: $%.4f", st.TasksCompletedThisSession, st.SessionCostUSD),
		fmt.Sprintf("Circuit breaker: %s", st.CircuitBreaker.State),
	}
	if shouldHalt {
		lines = append(lines, fmt.Sprintf("HALTING: %s", haltReason))
	}

	return Result{Success: true, Content: strings.Join(lines, "\n"), Data: summary}, nil
}

func (s *Surface) signalPhaseComplete(req SignalPhaseComplete) (Result, error) {
	phase := types.Phase(req.Phase)
	if !phase.IsValid() {
		return failure(fmt.Sprintf("Unknown phase: %s", req.Phase),
			fmt.Errorf("invalid phase %q", req.Phase)), nil
	}

	st, err := s.store.LoadState()
	if err != nil {
		return Result{}, err
	}
	if phase != st.CurrentPhase {
		return failure(fmt.Sprintf("Cannot signal %s complete while in %s", phase, st.CurrentPhase),
			fmt.Errorf("phase mismatch")), nil
	}

	st.SignalPhaseComplete(phase, req.Summary)
	if err := s.store.SaveState(st); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Content: fmt.Sprintf("Phase %s signaled complete", phase),
		Data:    map[string]any{"phase": phase.String()},
	}, nil
}
