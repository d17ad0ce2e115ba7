package loop

import (
	"strings"

	"github.com/CipherScout/Ralph/internal/types"
)

// DetermineRecovery maps a failure reason to the action the loop takes.
// The table is fixed:
//
//	cost/budget breach       -> manual intervention
//	stagnation at threshold  -> hand-off to a fresh context
//	failures below the cap   -> retry
//	failures at the cap      -> skip (block) the task
func DetermineRecovery(state *types.RalphState, reason string) types.RecoveryAction {
	cb := &state.CircuitBreaker

	if strings.HasPrefix(reason, "cost_limit") || strings.Contains(reason, "budget exceeded") {
		return types.RecoveryManualIntervention
	}
	if cb.StagnationCount >= cb.MaxStagnationIterations {
		return types.RecoveryHandoff
	}
	if cb.FailureCount < cb.MaxConsecutiveFailures {
		return types.RecoveryRetry
	}
	return types.RecoverySkipTask
}
