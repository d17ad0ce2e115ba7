package cli

import (
	"github.com/spf13/cobra"
)

var resetKeepPlan bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero out orchestrator state",
	Long: `Reinitialize state.json and clear injections, the progress log and
the active memory file. The plan survives with --keep-plan; config.yaml
is always preserved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		if err := store.Reset(resetKeepPlan); err != nil {
			return err
		}

		d := newDisplay()
		if resetKeepPlan {
			d.Success("State reset; plan preserved")
		} else {
			d.Success("State and plan reset")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetKeepPlan, "keep-plan", false, "preserve the implementation plan")
	rootCmd.AddCommand(resetCmd)
}
