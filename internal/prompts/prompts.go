// Package prompts serves the static phase prompt templates. Templates
// ship embedded in the binary; a project may override any of them by
// dropping a file with the same name under .ralph/prompts/.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.md
var embeddedPrompts embed.FS

// Get returns the embedded prompt content by name.
func Get(name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	content, err := embeddedPrompts.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt %s not found: %w", name, err)
	}
	return string(content), nil
}

// GetForProject returns prompt content, checking the project's
// .ralph/prompts/ directory first, then the embedded templates.
func GetForProject(projectRoot, name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	localPath := filepath.Join(projectRoot, ".ralph", "prompts", name)
	if content, err := os.ReadFile(localPath); err == nil {
		return string(content), nil
	}
	return Get(name)
}
