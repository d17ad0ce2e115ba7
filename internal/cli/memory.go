package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/memory"
)

var (
	memoryShow    bool
	memoryStats   bool
	memoryCleanup bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or rotate the memory tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(store)
		if err != nil {
			return err
		}
		mgr, err := memory.NewManager(store.ProjectRoot(), cfg.Context)
		if err != nil {
			return err
		}
		d := newDisplay()

		switch {
		case memoryCleanup:
			rotated, deleted, err := mgr.Rotate()
			if err != nil {
				return err
			}
			d.Success(fmt.Sprintf("Rotated %d files to archive, deleted %d expired", rotated, deleted))

		case memoryStats:
			stats := mgr.GetStats()
			d.Box("MEMORY",
				fmt.Sprintf("Iterations: %d files (cap %d)", stats.IterationFiles, cfg.Context.MaxIterationFiles),
				fmt.Sprintf("Sessions:   %d files (cap %d)", stats.SessionFiles, cfg.Context.MaxSessionFiles),
				fmt.Sprintf("Phases:     %d files", stats.PhaseFiles),
				fmt.Sprintf("Archive:    %d files", stats.ArchiveFiles),
				fmt.Sprintf("Total size: %d bytes", stats.TotalSizeBytes),
			)

		default: // --show
			content, err := store.LoadMemoryFile()
			if err != nil {
				return err
			}
			if content == "" {
				d.Info("Memory", "no active memory yet")
				return nil
			}
			fmt.Println(content)
		}
		return nil
	},
}

func init() {
	memoryCmd.Flags().BoolVar(&memoryShow, "show", false, "print the active memory rendering (default)")
	memoryCmd.Flags().BoolVar(&memoryStats, "stats", false, "show memory file counts and sizes")
	memoryCmd.Flags().BoolVar(&memoryCleanup, "cleanup", false, "rotate files past their caps and purge the archive")
	rootCmd.AddCommand(memoryCmd)
}
