package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/display"
	"github.com/CipherScout/Ralph/internal/state"
	"github.com/CipherScout/Ralph/internal/types"
	"github.com/CipherScout/Ralph/internal/workspace"
)

// projectRoot resolves the project root from the flag, the environment
// or the working directory, as an absolute path.
func projectRoot() (string, error) {
	root := flagProjectRoot
	if root == "" {
		root = os.Getenv("RALPH_PROJECT_ROOT")
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve project root: %w", err)
	}
	return abs, nil
}

// openInitialized returns a store for an initialized project, or the
// not-initialized error that maps to exit code 3.
func openInitialized() (*state.Store, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	if !workspace.IsInitialized(root) {
		return nil, fmt.Errorf("%w: run 'ralph init' first", types.ErrNotInitialized)
	}
	return state.NewStore(root), nil
}

// loadConfig loads the project's configuration.
func loadConfig(store *state.Store) (*config.Config, error) {
	return config.Load(store.ProjectRoot())
}

// newDisplay builds the display honoring --no-color.
func newDisplay() *display.Display {
	return display.NewWithOptions(flagNoColor)
}
