package cli

import (
	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/types"
)

// The per-phase verbs run the loop pinned to one phase and stop when
// the phase transitions. Exit conventions match run.

var phaseMaxIterations int

func newPhaseCmd(use string, phase types.Phase, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(phase, phaseMaxIterations, true)
		},
	}
}

func init() {
	discoverCmd := newPhaseCmd("discover", types.PhaseDiscovery, "Run the discovery phase")
	planCmd := newPhaseCmd("plan", types.PhasePlanning, "Run the planning phase")
	buildCmd := newPhaseCmd("build", types.PhaseBuilding, "Run the building phase")
	validateCmd := newPhaseCmd("validate", types.PhaseValidation, "Run the validation phase")

	for _, cmd := range []*cobra.Command{discoverCmd, planCmd, buildCmd, validateCmd} {
		cmd.Flags().IntVar(&phaseMaxIterations, "max-iterations", 0, "iteration cap for this run (default: config)")
		rootCmd.AddCommand(cmd)
	}
}
