package cli

import (
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the loop before its next iteration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the paused flag and allow iterations again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(false)
	},
}

func setPaused(paused bool) error {
	store, err := openInitialized()
	if err != nil {
		return err
	}
	st, err := store.LoadState()
	if err != nil {
		return err
	}
	st.Paused = paused
	if !paused {
		// Resume probes with a half-open breaker.
		st.CircuitBreaker.HalfOpen()
	}
	if err := store.SaveState(st); err != nil {
		return err
	}

	d := newDisplay()
	if paused {
		d.Success("Paused; the loop stops at the next iteration boundary")
	} else {
		d.Success("Resumed")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
