// Package workspace seeds and inspects the .ralph/ layout under a
// project root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/types"
)

// defaultConfigYAML is the seed configuration written by init. The core
// never rewrites it afterwards.
const defaultConfigYAML = `# Ralph configuration
primary_model: claude-sonnet-4-20250514
planning_model: claude-opus-4-20250514
max_iterations: 100

circuit_breaker_failures: 3
circuit_breaker_stagnation: 5

cost_limits:
  per_iteration: 2.0
  per_session: 50.0
  total: 200.0

context:
  total_capacity: 200000
  safety_margin: 0.20
  max_active_memory_chars: 8000
  max_iteration_files: 20
  max_session_files: 10
  archive_retention_days: 30

safety:
  git_read_only: true
  allowed_git_operations: [status, log, diff, show, ls-files, blame, branch]
  blocked_commands:
    - rm -rf
    - sudo

build:
  test_command: ""
  lint_command: ""
  typecheck_command: ""
  timeout_seconds: 300
`

// IsInitialized reports whether the project has a seeded workspace.
func IsInitialized(projectRoot string) bool {
	return state.NewStore(projectRoot).StateExists()
}

// Init creates the .ralph/ tree, seeds state and plan, and writes the
// default config if none exists. Refuses to touch an initialized
// workspace unless force is set.
func Init(projectRoot string, force bool) error {
	store := state.NewStore(projectRoot)

	if store.StateExists() && !force {
		return fmt.Errorf("%w: %s", types.ErrAlreadyInitialized, projectRoot)
	}

	if err := store.EnsureRalphDir(); err != nil {
		return err
	}

	configPath := filepath.Join(projectRoot, ".ralph", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
			return fmt.Errorf("cannot write config: %w", err)
		}
	}

	if _, err := store.InitializeState(); err != nil {
		return err
	}
	if _, err := store.InitializePlan(); err != nil {
		return err
	}

	specsDir := filepath.Join(projectRoot, "specs")
	if err := os.MkdirAll(specsDir, 0o755); err != nil {
		return fmt.Errorf("cannot create specs directory: %w", err)
	}
	return nil
}
