// Package display provides unified output formatting for the Ralph
// CLI. It visually separates orchestrator messages from executor
// output and renders the halt panel shown on circuit-breaker stops.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Display handles all CLI output with visual hierarchy
type Display struct {
	theme     *Theme
	termWidth int
}

// New creates a new Display instance
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with configuration
func NewWithOptions(noColor bool) *Display {
	d := &Display{termWidth: getTerminalWidth()}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

// getTerminalWidth returns the terminal width, defaulting to 80
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120 // cap for readability
	}
	return width
}

// Box prints a boxed message with a title
func (d *Display) Box(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := len(title) + 3 // "─ TITLE "
	remainingWidth := width - titleLen
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Println(d.theme.Border(topLine))

	for _, line := range lines {
		padded := d.padRight(line, width-2)
		fmt.Println(d.theme.Border(BoxVertical) + " " + d.theme.Text(padded) + " " + d.theme.Border(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Println(d.theme.Border(bottomLine))
}

// Status prints a single-line timestamped status message
func (d *Display) Status(symbol, message string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n", d.theme.Border(timestamp), symbol, d.theme.Text(message))
}

// Success prints a success message with green checkmark
func (d *Display) Success(message string) {
	d.Status(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message with red X
func (d *Display) Error(message string) {
	d.Status(d.theme.Error(SymbolError), message)
}

// Warning prints a warning message with yellow triangle
func (d *Display) Warning(message string) {
	d.Status(d.theme.Warning(SymbolWarning), message)
}

// Info prints a labeled info message
func (d *Display) Info(label, message string) {
	d.Status(d.theme.Info(label+":"), message)
}

// SectionBreakLine prints a horizontal separator for iteration boundaries
func (d *Display) SectionBreakLine() {
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}

// Iteration prints the iteration banner with progress
func (d *Display) Iteration(iteration int, phase string, taskID string, completed, total int) {
	d.SectionBreakLine()
	task := taskID
	if task == "" {
		task = "(no runnable task)"
	}
	line := fmt.Sprintf("Iteration %d [%s]: %s (%d/%d tasks done)",
		iteration, d.theme.Info(phase), task, completed, total)
	fmt.Println(line)
	d.SectionBreakLine()
}

// Executor prints subdued executor output with a tool count gutter
func (d *Display) Executor(text string, toolCount int) {
	timestamp := time.Now().Format("[15:04:05]")
	toolStr := ""
	if toolCount > 0 {
		toolStr = " " + d.theme.ExecToolCount(fmt.Sprintf("[%d]", toolCount))
	}
	fmt.Printf("  %s%s %s\n", d.theme.ExecTimestamp(timestamp), toolStr, d.theme.ExecText(text))
}

// HaltPanel renders the single failure panel: halt reason, last task,
// cumulative cost and a suggested recovery command.
func (d *Display) HaltPanel(reason, lastTask string, totalCostUSD float64) {
	suggestion := suggestRecovery(reason)
	lines := []string{
		fmt.Sprintf("Halt reason: %s", reason),
	}
	if lastTask != "" {
		lines = append(lines, fmt.Sprintf("Last task:   %s", lastTask))
	}
	lines = append(lines,
		fmt.Sprintf("Total cost:  $%.4f", totalCostUSD),
		"",
		fmt.Sprintf("Suggested:   ralph %s", suggestion),
	)
	d.Box("HALTED", lines...)
}

// suggestRecovery maps a halt reason to the operator command most
// likely to unstick the loop.
func suggestRecovery(reason string) string {
	switch {
	case strings.HasPrefix(reason, "consecutive_failures"):
		return "skip <task_id>  (or: ralph inject \"<guidance>\")"
	case strings.HasPrefix(reason, "stagnation"):
		return "inject \"<guidance>\"  (or: ralph regenerate-plan)"
	case strings.HasPrefix(reason, "cost_limit"):
		return "reset  (raise cost_limits in .ralph/config.yaml first)"
	}
	return "status -v"
}

func (d *Display) padRight(s string, width int) string {
	if len(s) >= width {
		if width > 3 {
			return s[:width-3] + "..."
		}
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
