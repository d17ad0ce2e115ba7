package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveBinaryPath finds a binary, checking PATH and common install
// locations.
func ResolveBinaryPath(binaryPath string) string {
	if filepath.IsAbs(binaryPath) {
		return binaryPath
	}

	if path, err := exec.LookPath(binaryPath); err == nil {
		return path
	}

	if strings.HasPrefix(binaryPath, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, binaryPath[1:])
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		commonPaths := []string{
			filepath.Join(home, ".claude", "local", "claude"),
			"/usr/local/bin/claude",
			"/opt/homebrew/bin/claude",
		}
		for _, p := range commonPaths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	// Return original, will fail with a helpful error later
	return binaryPath
}

// ClaudeNotFoundError returns a helpful error when the claude binary
// cannot be located.
func ClaudeNotFoundError() error {
	return fmt.Errorf(`claude not found in PATH

To fix, add to your ~/.zshrc or ~/.bashrc:
  export PATH="$HOME/.claude/local:$PATH"

Then restart your terminal, or run:
  source ~/.zshrc`)
}
