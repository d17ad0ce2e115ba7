package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/types"
)

var (
	tasksPending bool
	tasksAll     bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List plan tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		plan, err := store.LoadPlan()
		if err != nil {
			return err
		}

		d := newDisplay()
		if len(plan.Tasks) == 0 {
			d.Info("Plan", "no tasks defined yet")
			return nil
		}

		for i := range plan.Tasks {
			task := &plan.Tasks[i]
			if tasksPending && task.Status != types.StatusPending {
				continue
			}
			if !tasksAll && !tasksPending && task.Status == types.StatusComplete {
				continue
			}

			symbol := statusSymbol(task.Status)
			line := fmt.Sprintf("%s [%d] %s: %s", symbol, task.Priority, task.ID, task.Description)
			if len(task.Dependencies) > 0 {
				line += fmt.Sprintf(" (deps: %s)", strings.Join(task.Dependencies, ", "))
			}
			if task.Status == types.StatusBlocked && len(task.Blockers) > 0 {
				line += fmt.Sprintf(" — %s", task.Blockers[len(task.Blockers)-1])
			}
			fmt.Println(line)
		}

		fmt.Println()
		d.Info("Summary", fmt.Sprintf("%d total, %d pending, %d in progress, %d blocked, %d complete",
			len(plan.Tasks), plan.PendingCount(), plan.InProgressCount(), plan.BlockedCount(), plan.CompleteCount()))
		return nil
	},
}

func statusSymbol(status types.TaskStatus) string {
	switch status {
	case types.StatusComplete:
		return "[x]"
	case types.StatusInProgress:
		return "[>]"
	case types.StatusBlocked:
		return "[!]"
	}
	return "[ ]"
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksPending, "pending", false, "show only pending tasks")
	tasksCmd.Flags().BoolVar(&tasksAll, "all", false, "include completed tasks")
	rootCmd.AddCommand(tasksCmd)
}
