package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/tools"
)

var skipReason string

var skipCmd = &cobra.Command{
	Use:   "skip <task_id>",
	Short: "Block a task so the scheduler moves past it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}

		surface := tools.NewSurface(store)
		result, err := surface.Dispatch(tools.MarkTaskBlocked{
			TaskID: args[0],
			Reason: skipReason,
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("%s: %s", result.Content, result.Error)
		}

		newDisplay().Success(result.Content)
		return nil
	},
}

func init() {
	skipCmd.Flags().StringVar(&skipReason, "reason", "skipped by operator", "reason recorded on the task")
	rootCmd.AddCommand(skipCmd)
}
