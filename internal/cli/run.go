package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/display"
	"github.com/CipherScout/Ralph/internal/executor"
	"github.com/CipherScout/Ralph/internal/llm"
	"github.com/CipherScout/Ralph/internal/loop"
	"github.com/CipherScout/Ralph/internal/phases"
	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/types"
)

var (
	runPhase         string
	runMaxIterations int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the iteration loop from the current phase",
	Long: `Run supervised iterations until the workflow completes, the circuit
breaker halts, or the iteration cap is reached.

Exit codes: 0 completion, 4 circuit-breaker halt, 5 iteration cap.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var startPhase types.Phase
		if runPhase != "" {
			startPhase = types.Phase(runPhase)
			if !startPhase.IsValid() {
				return fmt.Errorf("invalid phase %q, must be one of: %v", runPhase, types.AllPhases())
			}
		}
		return runLoop(startPhase, runMaxIterations, false)
	},
}

// runLoop is the shared driver behind run and the per-phase verbs.
func runLoop(forcePhase types.Phase, maxIterations int, singlePhase bool) error {
	store, err := openInitialized()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(store)
	if err != nil {
		return err
	}

	if forcePhase != "" {
		st, err := store.LoadState()
		if err != nil {
			return err
		}
		if st.CurrentPhase != forcePhase {
			phases.ForceTransition(st, forcePhase)
			if err := store.SaveState(st); err != nil {
				return err
			}
		}
	}

	d := newDisplay()
	backend := llm.NewClaude("claude")
	runner, err := loop.NewRunner(store, cfg, backend, loopHooks(d, store))
	if err != nil {
		return err
	}
	runner.SinglePhase = singlePhase

	// SIGINT trips the cancellation token; the executor returns
	// "cancelled", state is persisted, the loop exits cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runner.Run(ctx, maxIterations)
	printRunResult(d, store, result)
	return runErr
}

func loopHooks(d *display.Display, store *state.Store) loop.Hooks {
	return loop.Hooks{
		OnIterationStart: func(iteration int, phase types.Phase, taskID string) {
			plan, err := store.LoadPlan()
			completed, total := 0, 0
			if err == nil {
				completed, total = plan.CompleteCount(), len(plan.Tasks)
			}
			d.Iteration(iteration, phase.String(), taskID, completed, total)
		},
		OnIterationEnd: func(result executor.IterationResult) {
			if result.Success {
				d.Success(fmt.Sprintf("Iteration done: %d tool calls, %d tokens, $%.4f",
					result.ToolCalls, result.TokensUsed(), result.CostUSD))
			} else {
				d.Error("Iteration failed: " + result.Error)
			}
		},
		OnPhaseChange: func(from, to types.Phase) {
			d.Box("PHASE", fmt.Sprintf("%s -> %s", from, to))
		},
		OnHandoff: func(sessionID, reason string) {
			d.Info("Handoff", fmt.Sprintf("new session %s (%s)", sessionID, reason))
		},
		OnHalt: func(reason string) {
			d.Warning("Circuit breaker: " + reason)
		},
		OnToolDenied: func(tool, reason string) {
			d.Warning(fmt.Sprintf("Denied %s: %s", tool, reason))
		},
	}
}

func printRunResult(d *display.Display, store *state.Store, result loop.Result) {
	switch result.Status {
	case loop.StatusCompleted:
		d.Success(fmt.Sprintf("Workflow complete: %d iterations, %d tasks, $%.4f",
			result.IterationsCompleted, result.TasksCompleted, result.TotalCostUSD))
	case loop.StatusPaused:
		d.Info("Paused", "resume with 'ralph resume'")
	case loop.StatusHalted:
		totalCost := result.TotalCostUSD
		if st, err := store.LoadState(); err == nil {
			totalCost = st.TotalCostUSD
		}
		d.HaltPanel(result.HaltReason, result.LastTaskID, totalCost)
	case loop.StatusIterCap:
		d.Warning("Iteration limit reached: " + result.HaltReason)
	case loop.StatusCancelled:
		d.Warning("Cancelled; state persisted")
	}
}

func init() {
	runCmd.Flags().StringVar(&runPhase, "phase", "", "force a starting phase (discovery|planning|building|validation)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration cap for this run (default: config)")
	rootCmd.AddCommand(runCmd)
}
