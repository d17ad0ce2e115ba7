// Package cli implements the ralph command surface. Subcommand errors
// are mapped to the documented exit codes in Execute.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CipherScout/Ralph/internal/types"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK             = 0
	ExitGeneralError   = 1
	ExitBadUsage       = 2
	ExitNotInitialized = 3
	ExitCircuitHalted  = 4
	ExitIterationLimit = 5
)

var (
	flagProjectRoot string
	flagNoColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Deterministic supervisory harness for LLM coding agents",
	Long: `Ralph drives an external LLM coding agent through a structured
development lifecycle. The harness owns every workflow decision: task
selection, iteration boundaries, context hand-offs, failure halts and
spending limits. The LLM is a stateless executor invoked once per
iteration.

Phases: discovery -> planning -> building <-> validation

Get started:
  ralph init          Initialize the .ralph workspace
  ralph run           Drive the iteration loop from the current phase
  ralph status        Show orchestrator state`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeFor(err)
	}
	return ExitOK
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, types.ErrAlreadyInitialized):
		return ExitBadUsage
	case errors.Is(err, types.ErrNotInitialized), errors.Is(err, types.ErrStateNotFound):
		return ExitNotInitialized
	case errors.Is(err, types.ErrCircuitOpen):
		return ExitCircuitHalted
	case errors.Is(err, types.ErrIterationLimit):
		return ExitIterationLimit
	}
	return ExitGeneralError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", "", "project root (default: $RALPH_PROJECT_ROOT or cwd)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	rootCmd.SetVersionTemplate(fmt.Sprintf("ralph version %s\n", version))
}
