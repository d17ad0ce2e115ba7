// Package loop is the iteration orchestrator: it owns the supervisory
// cycle of context build, executor call, accounting, recovery and
// hand-off. One iteration at a time, one executor call at a time, one
// tool call at a time.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CipherScout/Ralph/internal/budget"
	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/executor"
	"github.com/CipherScout/Ralph/internal/memory"
	"github.com/CipherScout/Ralph/internal/phases"
	"github.com/CipherScout/Ralph/internal/safety"
	"github.com/CipherScout/Ralph/internal/scheduler"
	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/tools"
	"github.com/CipherScout/Ralph/internal/types"
	"github.com/CipherScout/Ralph/internal/verify"
)

// Status is the terminal condition of a loop run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusHalted    Status = "halted"
	StatusIterCap   Status = "iteration_limit"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Result summarizes a loop run for the CLI.
type Result struct {
	Status              Status
	IterationsCompleted int
	TasksCompleted      int
	TotalCostUSD        float64
	TotalTokensUsed     int
	FinalPhase          types.Phase
	HaltReason          string
	LastTaskID          string
	SessionCount        int
}

// Hooks are the loop's observer callbacks; the CLI wires the display.
type Hooks struct {
	OnIterationStart func(iteration int, phase types.Phase, taskID string)
	OnIterationEnd   func(result executor.IterationResult)
	OnPhaseChange    func(from, to types.Phase)
	OnHandoff        func(sessionID, reason string)
	OnHalt           func(reason string)
	OnToolDenied     func(tool, reason string)
}

// Runner drives the iteration loop for one project.
type Runner struct {
	store     *state.Store
	cfg       *config.Config
	exec      executor.Executor
	mem       *memory.Manager
	validator *safety.Validator
	surface   *tools.Surface
	hooks     Hooks

	// SinglePhase stops the loop as soon as the phase changes; used by
	// the per-phase CLI verbs.
	SinglePhase bool

	lastPhase    types.Phase
	crossedPhase bool
	sessionCount int
	sessionStart types.Timestamp
}

// NewRunner wires the loop's collaborators.
func NewRunner(store *state.Store, cfg *config.Config, exec executor.Executor, hooks Hooks) (*Runner, error) {
	mem, err := memory.NewManager(store.ProjectRoot(), cfg.Context)
	if err != nil {
		return nil, err
	}
	return &Runner{
		store:        store,
		cfg:          cfg,
		exec:         exec,
		mem:          mem,
		validator:    safety.New(cfg.Safety, phases.ToolTable(cfg)),
		surface:      tools.NewSurface(store),
		hooks:        hooks,
		sessionCount: 1,
		sessionStart: types.Now(),
	}, nil
}

// newSessionID returns an opaque session identifier.
func newSessionID() string {
	return uuid.NewString()[:8]
}

// applyBreakerConfig stamps the configured thresholds onto a freshly
// loaded breaker. Configuration is live: the persisted copy only
// records the values last used, never overrides the operator's config.
func (r *Runner) applyBreakerConfig(st *types.RalphState) {
	if r.cfg.CircuitBreakerFailures > 0 {
		st.CircuitBreaker.MaxConsecutiveFailures = r.cfg.CircuitBreakerFailures
	}
	if r.cfg.CircuitBreakerStagnation > 0 {
		st.CircuitBreaker.MaxStagnationIterations = r.cfg.CircuitBreakerStagnation
	}
	if r.cfg.CostLimits.Total > 0 {
		st.CircuitBreaker.MaxCostUSD = r.cfg.CostLimits.Total
	}
}

// Run executes up to maxIterations supervised iterations starting from
// the current phase. maxIterations <= 0 uses the configured cap.
func (r *Runner) Run(ctx context.Context, maxIterations int) (Result, error) {
	if maxIterations <= 0 {
		maxIterations = r.cfg.MaxIterations
	}

	if err := r.store.AcquireLock(); err != nil {
		return Result{Status: StatusFailed}, err
	}
	defer r.store.ReleaseLock()

	st, err := r.store.LoadState()
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	r.applyBreakerConfig(st)
	r.lastPhase = st.CurrentPhase

	// First iteration of the session: fresh id, stale task recovery.
	if st.SessionID == "" {
		if err := r.startSession(st); err != nil {
			return Result{Status: StatusFailed}, err
		}
	}

	result := Result{FinalPhase: st.CurrentPhase, SessionCount: r.sessionCount}
	startPhase := st.CurrentPhase

	for result.IterationsCompleted < maxIterations {
		st, err = r.store.LoadState()
		if err != nil {
			return result, err
		}
		r.applyBreakerConfig(st)
		result.FinalPhase = st.CurrentPhase

		if st.Paused {
			result.Status = StatusPaused
			return result, nil
		}
		if halt, reason := st.ShouldHalt(); halt {
			// Any threshold breach opens the breaker, including
			// stagnation and cost caps that never saw a failure.
			if st.CircuitBreaker.State != types.CircuitOpen {
				st.CircuitBreaker.State = types.CircuitOpen
				st.CircuitBreaker.LastFailureReason = reason
				if err := r.store.SaveState(st); err != nil {
					return result, err
				}
			}
			result.Status = StatusHalted
			result.HaltReason = reason
			if r.hooks.OnHalt != nil {
				r.hooks.OnHalt(reason)
			}
			return result, fmt.Errorf("%w: %s", types.ErrCircuitOpen, reason)
		}

		iterResult, lastTask, err := r.runIteration(ctx, st)
		if err != nil {
			return result, err
		}
		result.IterationsCompleted++
		result.TotalCostUSD += iterResult.CostUSD
		result.TotalTokensUsed += iterResult.TokensUsed()
		if lastTask != "" {
			result.LastTaskID = lastTask
		}
		if iterResult.TaskCompleted {
			result.TasksCompleted++
		}

		if iterResult.Error == "cancelled" {
			result.Status = StatusCancelled
			return result, nil
		}

		// Workflow completion: validation signaled done.
		st, err = r.store.LoadState()
		if err != nil {
			return result, err
		}
		result.FinalPhase = st.CurrentPhase
		if st.CurrentPhase == types.PhaseValidation && st.IsPhaseSignaled(types.PhaseValidation) {
			if pc, ok := r.cfg.PhaseOverride(types.PhaseValidation); ok && pc.RequireHumanApproval {
				// A human signs off before the workflow closes.
				st.Paused = true
				if err := r.store.SaveState(st); err != nil {
					return result, err
				}
				result.Status = StatusPaused
				return result, nil
			}
			result.Status = StatusCompleted
			return result, nil
		}
		if r.SinglePhase && st.CurrentPhase != startPhase {
			result.Status = StatusCompleted
			return result, nil
		}
	}

	result.Status = StatusIterCap
	result.HaltReason = fmt.Sprintf("max_iterations:%d", maxIterations)
	return result, fmt.Errorf("%w: %d", types.ErrIterationLimit, maxIterations)
}

// startSession begins a fresh session: new id, session counters reset,
// stale in-progress tasks demoted.
func (r *Runner) startSession(st *types.RalphState) error {
	st.StartNewSession(newSessionID())
	r.sessionStart = types.Now()

	plan, err := r.store.LoadPlan()
	if err != nil {
		return err
	}
	if stale := scheduler.ResetStale(plan); stale > 0 {
		if err := r.store.SavePlan(plan); err != nil {
			return err
		}
	}
	return r.store.SaveState(st)
}

// runIteration performs one full supervised iteration.
func (r *Runner) runIteration(ctx context.Context, st *types.RalphState) (executor.IterationResult, string, error) {
	plan, err := r.store.LoadPlan()
	if err != nil {
		return executor.IterationResult{}, "", err
	}
	injections, err := r.store.LoadInjections()
	if err != nil {
		return executor.IterationResult{}, "", err
	}

	// Pre-iteration bookkeeping.
	st.StartIteration()
	if err := r.store.SaveState(st); err != nil {
		return executor.IterationResult{}, "", err
	}

	task, demoted := scheduler.NextTask(plan)
	if demoted > 0 {
		if err := r.store.SavePlan(plan); err != nil {
			return executor.IterationResult{}, "", err
		}
	}
	taskID := ""
	if task != nil {
		taskID = task.ID
	}
	if r.hooks.OnIterationStart != nil {
		r.hooks.OnIterationStart(st.IterationCount, st.CurrentPhase, taskID)
	}

	ctxBudget := budget.NewContextBudget(r.cfg, r.cfg.ModelForPhase(st.CurrentPhase))
	ctxBudget.AddUsage(st.SessionTokensUsed)

	activeMemory := r.mem.BuildActiveMemory(memory.ActiveMemoryInput{
		State:         st,
		Plan:          plan,
		CrossedPhase:  r.crossedPhase,
		CurrentTask:   task,
		RunnableCount: len(plan.RunnableTasks()),
	})
	if err := r.store.WriteMemoryFile(activeMemory); err != nil {
		return executor.IterationResult{}, "", err
	}
	r.crossedPhase = false

	promptCtx := phases.PromptContext{
		ProjectRoot:     r.store.ProjectRoot(),
		Iteration:       st.IterationCount,
		SessionID:       st.SessionID,
		Task:            task,
		ActiveMemory:    activeMemory,
		Injections:      injections,
		RemainingTokens: ctxBudget.AvailableTokens(),
		UsagePercent:    ctxBudget.UsagePercentage(),
		Backpressure:    r.cfg.BackpressureCommands(st.CurrentPhase),
	}
	systemPrompt, err := phases.BuildSystemPrompt(st.CurrentPhase, promptCtx)
	if err != nil {
		return executor.IterationResult{}, "", err
	}

	req := executor.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   phases.BuildUserPrompt(st.CurrentPhase, promptCtx),
		AllowedTools: append(phases.ToolsFor(st.CurrentPhase, r.cfg), tools.Names()...),
		MaxTurns:     phases.MaxTurnsFor(st.CurrentPhase, r.cfg),
		Model:        r.cfg.ModelForPhase(st.CurrentPhase),
		WorkDir:      r.store.ProjectRoot(),
	}

	tasksBefore := plan.CompleteCount()
	countBefore := len(plan.Tasks)

	// Executor call. Every tool invocation routes through the
	// validator, then (for orchestrator tools) the tool surface.
	iterResult := r.exec.RunIteration(ctx, req, r.dispatcher(st.CurrentPhase))

	// Injections are consumed by exactly one iteration.
	if len(injections) > 0 {
		if err := r.store.ClearInjections(); err != nil {
			return iterResult, taskID, err
		}
	}

	return r.postIteration(ctx, iterResult, taskID, tasksBefore, countBefore, ctxBudget)
}

// dispatcher builds the per-iteration tool router.
func (r *Runner) dispatcher(phase types.Phase) executor.ToolDispatcher {
	return func(toolName string, input json.RawMessage) executor.DispatchOutcome {
		var inputMap map[string]any
		if len(input) > 0 {
			_ = json.Unmarshal(input, &inputMap)
		}

		decision := r.validator.ValidateToolUse(toolName, inputMap, phase)
		if !decision.Allowed {
			if r.hooks.OnToolDenied != nil {
				r.hooks.OnToolDenied(toolName, decision.Reason)
			}
			return executor.DispatchOutcome{Denied: true, DenyReason: decision.Reason}
		}

		if !strings.HasPrefix(toolName, "ralph_") {
			// Executor-side tool; nothing for the orchestrator to apply.
			return executor.DispatchOutcome{Success: true}
		}

		req, err := tools.ParseRequest(toolName, input)
		if err != nil {
			return executor.DispatchOutcome{Success: false, Content: err.Error()}
		}
		result, err := r.surface.Dispatch(req)
		if err != nil {
			return executor.DispatchOutcome{Success: false, Content: err.Error()}
		}

		outcome := executor.DispatchOutcome{
			Success: result.Success,
			Content: result.Content,
		}
		if complete, ok := req.(tools.MarkTaskComplete); ok && result.Success {
			outcome.TaskCompleted = true
			outcome.TaskID = complete.TaskID
		}
		return outcome
	}
}

// postIteration applies accounting, memory capture, recovery and the
// hand-off / phase-transition decision.
func (r *Runner) postIteration(
	ctx context.Context,
	iterResult executor.IterationResult,
	taskID string,
	tasksBefore, countBefore int,
	ctxBudget *budget.ContextBudget,
) (executor.IterationResult, string, error) {
	st, err := r.store.LoadState()
	if err != nil {
		return iterResult, taskID, err
	}
	r.applyBreakerConfig(st)
	plan, err := r.store.LoadPlan()
	if err != nil {
		return iterResult, taskID, err
	}

	taskCompleted := plan.CompleteCount() > tasksBefore
	progressMade := taskCompleted ||
		(st.CurrentPhase == types.PhasePlanning && len(plan.Tasks) > countBefore) ||
		st.IsPhaseSignaled(st.CurrentPhase)

	breakerBefore := st.CircuitBreaker
	st.EndIteration(iterResult.CostUSD, iterResult.TokensUsed(), taskCompleted, progressMade)
	ctxBudget.AddUsage(iterResult.TokensUsed())

	// Validation phase: run the backpressure commands; a failure sends
	// the workflow back to building with the output injected.
	validationFailed := false
	if st.CurrentPhase == types.PhaseValidation && iterResult.Success {
		commands := r.cfg.BackpressureCommands(types.PhaseValidation)
		if len(commands) > 0 {
			runner := verify.NewRunner(r.store.ProjectRoot(), time.Duration(r.cfg.Build.TimeoutSeconds)*time.Second)
			results, verr := runner.Run(ctx, commands)
			if verr != nil && !errors.Is(verr, context.Canceled) {
				validationFailed = true
				if summary := verify.FailureSummary(results); summary != "" {
					if err := r.store.AddInjection(summary, types.SourceTestFailure, 1); err != nil {
						return iterResult, taskID, err
					}
				}
			}
		}
	}

	// Budget breach and failed backpressure verification are iteration
	// failures for the breaker.
	failureReason := ""
	if !iterResult.Success {
		failureReason = iterResult.Error
		if failureReason == "" {
			failureReason = "executor error"
		}
	} else if err := budget.CheckCostLimits(r.cfg.CostLimits, iterResult.CostUSD, st.SessionCostUSD, st.TotalCostUSD); err != nil {
		failureReason = err.Error()
	} else if validationFailed {
		failureReason = "validation failed"
	}

	var action types.RecoveryAction
	if failureReason != "" {
		// EndIteration fed the breaker a success; a failed iteration
		// replaces it so the failure streak and a half-open state carry
		// over and stagnation advances once.
		st.CircuitBreaker = breakerBefore
		st.CircuitBreaker.RecordFailure(failureReason)
		if taskCompleted {
			st.CircuitBreaker.StagnationCount = 0
		}
		action = DetermineRecovery(st, failureReason)
		if err := r.applyRecovery(action, st, taskID, failureReason); err != nil {
			return iterResult, taskID, err
		}
	}

	// Iteration memory.
	if _, err := r.mem.CaptureIteration(memory.IterationMemory{
		Iteration:      st.IterationCount,
		Phase:          st.CurrentPhase,
		Timestamp:      types.Now(),
		TasksCompleted: taskIDsByStatus(plan, types.StatusComplete),
		TasksBlocked:   taskIDsByStatus(plan, types.StatusBlocked),
		ProgressMade:   progressMade,
		TokensUsed:     iterResult.TokensUsed(),
		CostUSD:        iterResult.CostUSD,
		Error:          iterResult.Error,
	}); err != nil {
		return iterResult, taskID, err
	}
	if _, _, err := r.mem.Rotate(); err != nil {
		return iterResult, taskID, err
	}

	if err := r.store.SaveState(st); err != nil {
		return iterResult, taskID, err
	}
	if r.hooks.OnIterationEnd != nil {
		r.hooks.OnIterationEnd(iterResult)
	}

	// Decision order: hand-off, then phase transition.
	needsHandoff := ctxBudget.ShouldHandoff() || iterResult.NeedsHandoff || action == types.RecoveryHandoff
	if needsHandoff {
		reason := "context_budget"
		if action == types.RecoveryHandoff {
			reason = "stagnation_recovery"
		} else if iterResult.NeedsHandoff {
			reason = "executor_request"
		}
		if err := r.Handoff(st, plan, reason); err != nil {
			return iterResult, taskID, err
		}
		return iterResult, taskID, nil
	}

	completion := phases.CheckCompletion(st, plan, validationFailed)
	if completion.Done && completion.NextPhase != "" {
		if err := r.transitionPhase(st, plan, completion.NextPhase); err != nil {
			return iterResult, taskID, err
		}
	}

	return iterResult, taskID, nil
}

// applyRecovery performs the chosen recovery action's mutation.
func (r *Runner) applyRecovery(action types.RecoveryAction, st *types.RalphState, taskID, reason string) error {
	switch action {
	case types.RecoveryRetry:
		if taskID == "" {
			return nil
		}
		plan, err := r.store.LoadPlan()
		if err != nil {
			return err
		}
		if _, err := scheduler.IncrementRetry(plan, taskID); err != nil {
			return nil // task disappeared; nothing to retry
		}
		return r.store.SavePlan(plan)

	case types.RecoverySkipTask:
		if taskID == "" {
			return nil
		}
		plan, err := r.store.LoadPlan()
		if err != nil {
			return err
		}
		task := plan.TaskByID(taskID)
		if task == nil || task.Status == types.StatusBlocked || task.Status == types.StatusComplete {
			return nil
		}
		if task.Status == types.StatusInProgress {
			task.Status = types.StatusPending
		}
		if err := task.MarkBlocked(reason); err != nil {
			return nil
		}
		return r.store.SavePlan(plan)

	case types.RecoveryManualIntervention:
		st.Paused = true
		return nil

	case types.RecoveryHandoff:
		return nil // handled by the hand-off decision
	}
	return nil
}

// Handoff ends the current session: capture session memory, archive the
// session, clear injections, start a new session id.
func (r *Runner) Handoff(st *types.RalphState, plan *types.ImplementationPlan, reason string) error {
	if _, err := r.mem.CaptureSessionHandoff(memory.SessionMemory{
		SessionID:       st.SessionID,
		Phase:           st.CurrentPhase,
		Iteration:       st.IterationCount,
		EndedAt:         types.Now(),
		HandoffReason:   reason,
		TasksInProgress: taskIDsByStatus(plan, types.StatusInProgress),
		TokensUsed:      st.SessionTokensUsed,
		CostUSD:         st.SessionCostUSD,
	}); err != nil {
		return err
	}

	if err := r.store.AppendSessionArchive(types.SessionArchive{
		SessionID:      st.SessionID,
		Iteration:      st.IterationCount,
		StartedAt:      r.sessionStart,
		EndedAt:        types.Now(),
		TokensUsed:     st.SessionTokensUsed,
		CostUSD:        st.SessionCostUSD,
		TasksCompleted: st.TasksCompletedThisSession,
		Phase:          st.CurrentPhase,
		HandoffReason:  reason,
	}); err != nil {
		return err
	}

	if err := r.store.ClearInjections(); err != nil {
		return err
	}

	newID := newSessionID()
	st.StartNewSession(newID)
	r.sessionStart = types.Now()
	r.sessionCount++
	if err := r.store.SaveState(st); err != nil {
		return err
	}
	if r.hooks.OnHandoff != nil {
		r.hooks.OnHandoff(newID, reason)
	}
	return nil
}

// transitionPhase writes the departing phase's memory and advances the
// state machine.
func (r *Runner) transitionPhase(st *types.RalphState, plan *types.ImplementationPlan, next types.Phase) error {
	from := st.CurrentPhase

	if _, err := r.mem.CapturePhaseTransition(memory.PhaseMemory{
		Phase:             from,
		CompletedAt:       types.Now(),
		IterationsInPhase: st.SessionIterationCount,
		Artifacts: map[string]string{
			"tasks_total":    fmt.Sprintf("%d", len(plan.Tasks)),
			"tasks_complete": fmt.Sprintf("%d", plan.CompleteCount()),
			"tasks_blocked":  fmt.Sprintf("%d", plan.BlockedCount()),
		},
		Summary: fmt.Sprintf("Phase %s finished after iteration %d", from, st.IterationCount),
	}); err != nil {
		return err
	}

	if err := phases.Transition(st, next); err != nil {
		return err
	}
	r.crossedPhase = true
	r.lastPhase = next
	if err := r.store.SaveState(st); err != nil {
		return err
	}
	if r.hooks.OnPhaseChange != nil {
		r.hooks.OnPhaseChange(from, next)
	}
	return nil
}

func taskIDsByStatus(plan *types.ImplementationPlan, status types.TaskStatus) []string {
	var ids []string
	for i := range plan.Tasks {
		if plan.Tasks[i].Status == status {
			ids = append(ids, plan.Tasks[i].ID)
		}
	}
	return ids
}
