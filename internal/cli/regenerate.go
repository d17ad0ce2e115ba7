package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/phases"
	"github.com/CipherScout/Ralph/internal/types"
)

var regenerateDiscardCompleted bool

var regenerateCmd = &cobra.Command{
	Use:   "regenerate-plan",
	Short: "Clear the plan and return to the planning phase",
	Long: `Drop the current plan (optionally preserving completed tasks) and
force the workflow back into planning so the next run rebuilds it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		plan, err := store.LoadPlan()
		if err != nil {
			return err
		}

		fresh := types.NewPlan()
		if !regenerateDiscardCompleted {
			kept := map[string]bool{}
			for i := range plan.Tasks {
				if plan.Tasks[i].Status == types.StatusComplete {
					kept[plan.Tasks[i].ID] = true
				}
			}
			for i := range plan.Tasks {
				task := plan.Tasks[i]
				if task.Status != types.StatusComplete {
					continue
				}
				// Dependencies on dropped tasks would no longer resolve.
				var deps []string
				for _, dep := range task.Dependencies {
					if kept[dep] {
						deps = append(deps, dep)
					}
				}
				task.Dependencies = deps
				fresh.Tasks = append(fresh.Tasks, task)
			}
		}
		if err := store.SavePlan(fresh); err != nil {
			return err
		}

		st, err := store.LoadState()
		if err != nil {
			return err
		}
		phases.ForceTransition(st, types.PhasePlanning)
		st.CircuitBreaker.Reset()
		if err := store.SaveState(st); err != nil {
			return err
		}

		d := newDisplay()
		d.Success("Plan cleared; back in planning")
		if !regenerateDiscardCompleted && len(fresh.Tasks) > 0 {
			d.Info("Kept", fmt.Sprintf("%d completed tasks", len(fresh.Tasks)))
		}
		return nil
	},
}

func init() {
	regenerateCmd.Flags().BoolVar(&regenerateDiscardCompleted, "discard-completed", false, "drop completed tasks too")
	rootCmd.AddCommand(regenerateCmd)
}
