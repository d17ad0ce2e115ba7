package cli

import (
	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/types"
)

var injectPriority int

var injectCmd = &cobra.Command{
	Use:   "inject <message>",
	Short: "Queue guidance for the next iteration's prompt",
	Long: `Queue a context snippet that the next iteration includes in its
prompt. Injections are consumed by exactly one iteration, then deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		if err := store.AddInjection(args[0], types.SourceUser, injectPriority); err != nil {
			return err
		}
		newDisplay().Success("Injection queued for the next iteration")
		return nil
	},
}

func init() {
	injectCmd.Flags().IntVar(&injectPriority, "priority", 0, "higher priority sorts first in the prompt")
	rootCmd.AddCommand(injectCmd)
}
