package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInitialized()
		if err != nil {
			return err
		}
		sessions, err := store.LoadSessionArchive(historyLimit)
		if err != nil {
			return err
		}

		d := newDisplay()
		if len(sessions) == 0 {
			d.Info("History", "no archived sessions yet")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %-10s iter %-4d %2d tasks  %8d tok  $%.4f  %s\n",
				s.EndedAt.Format("2006-01-02 15:04"), s.Phase, s.Iteration,
				s.TasksCompleted, s.TokensUsed, s.CostUSD, s.HandoffReason)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum sessions to show")
	rootCmd.AddCommand(historyCmd)
}
