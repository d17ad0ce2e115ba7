package cli

import (
	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/loop"
)

var (
	handoffReason  string
	handoffSummary string
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Force a session hand-off",
	Long: `End the current session: capture session memory, append the session
archive, clear pending injections and generate a fresh session id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(store)
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

		runner, err := loop.NewRunner(store, cfg, nil, loop.Hooks{})
		if err != nil {
			return err
		}
		if handoffSummary != "" {
			if err := store.AppendLearning(handoffSummary, "handoff"); err != nil {
				return err
			}
		}
		if err := runner.Handoff(st, plan, handoffReason); err != nil {
			return err
		}

		st, err = store.LoadState()
		if err != nil {
			return err
		}
		newDisplay().Success("Hand-off complete; new session " + st.SessionID)
		return nil
	},
}

func init() {
	handoffCmd.Flags().StringVar(&handoffReason, "reason", "operator_request", "reason recorded in the session archive")
	handoffCmd.Flags().StringVar(&handoffSummary, "summary", "", "summary appended to the progress log")
	rootCmd.AddCommand(handoffCmd)
}
