package phases

import (
	"fmt"
	"strings"

	"github.com/CipherScout/Ralph/internal/prompts"
	"github.com/CipherScout/Ralph/internal/types"
)

// PromptContext is the view of the current iteration handed to the
// prompt builder: the scheduled task, assembled memory, queued
// injections and remaining context budget.
type PromptContext struct {
	ProjectRoot     string
	Iteration       int
	SessionID       string
	Task            *types.Task
	ActiveMemory    string
	Injections      []types.Injection
	RemainingTokens int
	UsagePercent    float64
	Backpressure    []string
}

// BuildSystemPrompt renders the phase template plus the project
// context sections.
func BuildSystemPrompt(phase types.Phase, ctx PromptContext) (string, error) {
	template, err := prompts.GetForProject(ctx.ProjectRoot, phase.String())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(template)

	b.WriteString("\n## Project Context\n")
	fmt.Fprintf(&b, "- Project root: %s\n", ctx.ProjectRoot)
	fmt.Fprintf(&b, "- Iteration: %d\n", ctx.Iteration)
	if ctx.SessionID != "" {
		fmt.Fprintf(&b, "- Session: %s\n", ctx.SessionID)
	}
	fmt.Fprintf(&b, "- Context usage: %.1f%% (%d tokens remaining)\n", ctx.UsagePercent, ctx.RemainingTokens)

	if len(ctx.Backpressure) > 0 {
		b.WriteString("\n## Verification Commands\nThese commands must pass before marking a task complete:\n")
		for _, cmd := range ctx.Backpressure {
			fmt.Fprintf(&b, "- `%s`\n", cmd)
		}
	}

	if ctx.ActiveMemory != "" {
		b.WriteString("\n## Memory From Previous Iterations\n")
		b.WriteString(ctx.ActiveMemory)
		b.WriteString("\n")
	}

	return b.String(), nil
}

// BuildUserPrompt renders the per-iteration instruction: the current
// task when the scheduler found one, general phase continuation
// otherwise, with any queued injections prepended.
func BuildUserPrompt(phase types.Phase, ctx PromptContext) string {
	var b strings.Builder

	if len(ctx.Injections) > 0 {
		b.WriteString("## Operator Guidance\n")
		for _, injection := range ctx.Injections {
			fmt.Fprintf(&b, "- [%s] %s\n", injection.Source, injection.Content)
		}
		b.WriteString("\n")
	}

	if ctx.Task == nil {
		fmt.Fprintf(&b, "Continue with the %s phase.\n", phase)
		b.WriteString("Check ralph_get_plan_summary and ralph_get_state_summary to understand current progress.\n")
		return b.String()
	}

	task := ctx.Task
	deps := "None"
	if len(task.Dependencies) > 0 {
		deps = strings.Join(task.Dependencies, ", ")
	}

	b.WriteString("Your current task:\n\n")
	fmt.Fprintf(&b, "**Task ID:** %s\n", task.ID)
	fmt.Fprintf(&b, "**Description:** %s\n", task.Description)
	fmt.Fprintf(&b, "**Priority:** %d\n", task.Priority)
	fmt.Fprintf(&b, "**Dependencies:** %s\n", deps)
	if task.RetryCount > 0 {
		fmt.Fprintf(&b, "**Retry count:** %d\n", task.RetryCount)
	}
	b.WriteString("**Verification Criteria:**\n")
	if len(task.VerificationCriteria) > 0 {
		for _, criterion := range task.VerificationCriteria {
			fmt.Fprintf(&b, "  - %s\n", criterion)
		}
	} else {
		b.WriteString("  - Implementation complete and tested\n")
	}

	b.WriteString("\nInstructions:\n")
	fmt.Fprintf(&b, "1. Call ralph_mark_task_in_progress with task_id=%q\n", task.ID)
	b.WriteString("2. Implement the task following TDD principles\n")
	b.WriteString("3. Run the verification commands\n")
	b.WriteString("4. When complete, call ralph_mark_task_complete with verification notes\n")
	b.WriteString("5. If blocked, call ralph_mark_task_blocked with a clear reason\n")

	return b.String()
}
