package cli

import (
	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .ralph workspace",
	Long: `Create the .ralph directory, seed orchestrator state and an empty
implementation plan, and write the default config.yaml.

Refuses to reinitialize an existing workspace unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}

		if err := workspace.Init(root, initForce); err != nil {
			return err
		}

		d := newDisplay()
		d.Success("Workspace initialized at " + root)
		d.Info("Next", "edit .ralph/config.yaml, then run 'ralph run'")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "reinitialize an existing workspace")
	rootCmd.AddCommand(initCmd)
}
