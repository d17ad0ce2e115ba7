package display

import "github.com/fatih/color"

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	SectionBreak   = "━"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolResume  = "↻"
	SymbolPending = "○"
)

// Theme holds all color functions for consistent styling
type Theme struct {
	// Orchestrator output (prominent)
	Border func(a ...interface{}) string
	Label  func(a ...interface{}) string
	Text   func(a ...interface{}) string

	// Executor output (subdued)
	ExecTimestamp func(a ...interface{}) string
	ExecText      func(a ...interface{}) string
	ExecToolCount func(a ...interface{}) string

	// Status indicators
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string

	// Structural elements
	Bold      func(a ...interface{}) string
	Dim       func(a ...interface{}) string
	Separator func(a ...interface{}) string
}

// DefaultTheme creates the default color theme
func DefaultTheme() *Theme {
	return &Theme{
		Border: color.New(color.FgCyan).SprintFunc(),
		Label:  color.New(color.FgCyan, color.Bold).SprintFunc(),
		Text:   color.New(color.FgWhite).SprintFunc(),

		ExecTimestamp: color.New(color.FgHiBlack).SprintFunc(),
		ExecText:      color.New(color.FgWhite).SprintFunc(),
		ExecToolCount: color.New(color.FgHiBlack).SprintFunc(),

		Success: color.New(color.FgGreen).SprintFunc(),
		Error:   color.New(color.FgRed).SprintFunc(),
		Warning: color.New(color.FgYellow).SprintFunc(),
		Info:    color.New(color.FgCyan).SprintFunc(),

		Bold:      color.New(color.Bold).SprintFunc(),
		Dim:       color.New(color.FgHiBlack).SprintFunc(),
		Separator: color.New(color.FgCyan).SprintFunc(),
	}
}

// NoColorTheme creates a theme without colors (for --no-color or non-TTY)
func NoColorTheme() *Theme {
	identity := func(a ...interface{}) string {
		if len(a) == 0 {
			return ""
		}
		if s, ok := a[0].(string); ok {
			return s
		}
		return ""
	}
	return &Theme{
		Border:        identity,
		Label:         identity,
		Text:          identity,
		ExecTimestamp: identity,
		ExecText:      identity,
		ExecToolCount: identity,
		Success:       identity,
		Error:         identity,
		Warning:       identity,
		Info:          identity,
		Bold:          identity,
		Dim:           identity,
		Separator:     identity,
	}
}
