// Package phases implements the four-phase state machine: the fixed
// transition graph, per-phase tool allowlists and turn caps, completion
// predicates, and the prompt builders that assemble each iteration's
// system and user prompts.
package phases

import (
	"fmt"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

// transitions is the directed phase graph. The only back edge is
// validation -> building; everything else moves forward. Operator
// commands (reset, regenerate-plan) bypass the graph explicitly.
var transitions = map[types.Phase][]types.Phase{
	types.PhaseDiscovery:  {types.PhasePlanning},
	types.PhasePlanning:   {types.PhaseBuilding},
	types.PhaseBuilding:   {types.PhaseValidation},
	types.PhaseValidation: {types.PhaseBuilding},
}

// CanTransition reports whether the edge (from, to) exists in the graph.
func CanTransition(from, to types.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// defaultPhaseTools is the tool allowlist per phase, enforced by the
// safety validator on every executor tool call.
var defaultPhaseTools = map[types.Phase][]string{
	types.PhaseDiscovery: {
		"Read", "Glob", "Grep", "WebSearch", "WebFetch", "Write", "Task", "AskUserQuestion",
	},
	types.PhasePlanning: {
		"Read", "Glob", "Grep", "WebSearch", "WebFetch", "Write", "Task", "ExitPlanMode",
	},
	types.PhaseBuilding: {
		"Read", "Write", "Edit", "Bash", "BashOutput", "KillBash",
		"Glob", "Grep", "Task", "TodoWrite", "WebSearch", "WebFetch", "NotebookEdit",
	},
	types.PhaseValidation: {
		"Read", "Glob", "Grep", "Bash", "Task", "WebFetch",
	},
}

// defaultMaxTurns caps the executor call length per phase.
var defaultMaxTurns = map[types.Phase]int{
	types.PhaseDiscovery:  50,
	types.PhasePlanning:   30,
	types.PhaseBuilding:   100,
	types.PhaseValidation: 20,
}

// ToolsFor returns the allowed tools for a phase, honoring any
// configured override.
func ToolsFor(phase types.Phase, cfg *config.Config) []string {
	if pc, ok := cfg.PhaseOverride(phase); ok && len(pc.AllowedTools) > 0 {
		return pc.AllowedTools
	}
	return defaultPhaseTools[phase]
}

// ToolTable builds the full phase -> allowlist table for the validator.
func ToolTable(cfg *config.Config) map[types.Phase][]string {
	table := make(map[types.Phase][]string, len(defaultPhaseTools))
	for _, phase := range types.AllPhases() {
		table[phase] = ToolsFor(phase, cfg)
	}
	return table
}

// MaxTurnsFor returns the executor turn cap for a phase, honoring any
// configured override.
func MaxTurnsFor(phase types.Phase, cfg *config.Config) int {
	if pc, ok := cfg.PhaseOverride(phase); ok && pc.MaxTurns > 0 {
		return pc.MaxTurns
	}
	if turns, ok := defaultMaxTurns[phase]; ok {
		return turns
	}
	return 50
}

// CompletionResult says whether the current phase is done and where the
// workflow goes next. Done with NextPhase == "" means the workflow
// itself is finished.
type CompletionResult struct {
	Done      bool
	NextPhase types.Phase
}

// CheckCompletion evaluates the current phase's completion predicate.
//
//   - discovery completes when the executor signaled it via the tool
//     surface (or the operator forces the transition).
//   - planning completes once the plan holds at least one task.
//   - building completes when every task is complete or blocked.
//   - validation completes on an explicit signal; a recorded validation
//     failure sends the workflow back to building instead.
func CheckCompletion(state *types.RalphState, plan *types.ImplementationPlan, validationFailed bool) CompletionResult {
	switch state.CurrentPhase {
	case types.PhaseDiscovery:
		if state.IsPhaseSignaled(types.PhaseDiscovery) {
			return CompletionResult{Done: true, NextPhase: types.PhasePlanning}
		}
	case types.PhasePlanning:
		if len(plan.Tasks) > 0 {
			return CompletionResult{Done: true, NextPhase: types.PhaseBuilding}
		}
	case types.PhaseBuilding:
		if plan.AllSettled() {
			return CompletionResult{Done: true, NextPhase: types.PhaseValidation}
		}
	case types.PhaseValidation:
		if validationFailed {
			return CompletionResult{Done: true, NextPhase: types.PhaseBuilding}
		}
		if state.IsPhaseSignaled(types.PhaseValidation) {
			return CompletionResult{Done: true}
		}
	}
	return CompletionResult{}
}

// Transition applies a legal phase move to the state, clearing the
// consumed completion signal.
func Transition(state *types.RalphState, to types.Phase) error {
	if !CanTransition(state.CurrentPhase, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", state.CurrentPhase, to)
	}
	state.ClearPhaseSignal(state.CurrentPhase)
	state.AdvancePhase(to)
	return nil
}

// ForceTransition moves to any phase regardless of the graph. Reserved
// for explicit operator commands (reset, regenerate-plan).
func ForceTransition(state *types.RalphState, to types.Phase) {
	state.ClearPhaseSignal(state.CurrentPhase)
	state.AdvancePhase(to)
}

// Previous returns the phase before the given one in workflow order,
// or "" for discovery.
func Previous(phase types.Phase) types.Phase {
	order := types.AllPhases()
	for i, p := range order {
		if p == phase && i > 0 {
			return order[i-1]
		}
	}
	return ""
}
