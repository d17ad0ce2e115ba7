package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cleanMemory bool
	cleanForce  bool
	cleanDryRun bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete state files",
	Long: `Delete orchestrator state files under .ralph/. With --memory the
memory tree and MEMORY.md are removed too. config.yaml is never
touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		d := newDisplay()

		targets := store.CleanTargets(cleanMemory)
		if len(targets) == 0 {
			d.Info("Clean", "nothing to remove")
			return nil
		}

		if cleanDryRun {
			d.Info("Clean", "would remove:")
			for _, t := range targets {
				fmt.Println("  " + t)
			}
			return nil
		}

		if !cleanForce {
			fmt.Printf("Remove %d state files%s? [y/N] ", len(targets), memorySuffix())
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
				d.Info("Clean", "aborted")
				return nil
			}
		}

		if err := store.Clean(cleanMemory); err != nil {
			return err
		}
		d.Success("State files removed")
		return nil
	},
}

func memorySuffix() string {
	if cleanMemory {
		return " (including memory)"
	}
	return ""
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanMemory, "memory", false, "also wipe the memory tree")
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "skip confirmation")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "list what would be removed")
	rootCmd.AddCommand(cleanCmd)
}
