package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		st, err := store.LoadState()
		if err != nil {
			return err
		}
		plan, err := store.LoadPlan()
		if err != nil {
			return err
		}

		d := newDisplay()
		lines := []string{
			fmt.Sprintf("Phase:      %s", st.CurrentPhase),
			fmt.Sprintf("Iteration:  %d", st.IterationCount),
			fmt.Sprintf("Session:    %s", orDash(st.SessionID)),
			fmt.Sprintf("Tasks:      %d/%d complete (%.0f%%)",
				plan.CompleteCount(), len(plan.Tasks), plan.CompletionPercentage()*100),
			fmt.Sprintf("Cost:       $%.4f total, $%.4f this session", st.TotalCostUSD, st.SessionCostUSD),
			fmt.Sprintf("Breaker:    %s", st.CircuitBreaker.State),
		}
		if st.Paused {
			lines = append(lines, "Paused:     yes")
		}
		if statusVerbose {
			lines = append(lines,
				fmt.Sprintf("Tokens:     %d total, %d this session", st.TotalTokensUsed, st.SessionTokensUsed),
				fmt.Sprintf("Failures:   %d/%d consecutive", st.CircuitBreaker.FailureCount, st.CircuitBreaker.MaxConsecutiveFailures),
				fmt.Sprintf("Stagnation: %d/%d iterations", st.CircuitBreaker.StagnationCount, st.CircuitBreaker.MaxStagnationIterations),
				fmt.Sprintf("Started:    %s", st.StartedAt.Format("2006-01-02 15:04")),
				fmt.Sprintf("Activity:   %s", st.LastActivityAt.Format("2006-01-02 15:04")),
			)
			if st.CircuitBreaker.LastFailureReason != "" {
				lines = append(lines, fmt.Sprintf("Last error: %s", st.CircuitBreaker.LastFailureReason))
			}
		}
		d.Box("RALPH", lines...)

		if halt, reason := st.ShouldHalt(); halt {
			d.Warning("Circuit breaker would halt: " + reason)
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "show extended state")
	rootCmd.AddCommand(statusCmd)
}
