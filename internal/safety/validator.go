// Package safety gates every tool invocation the executor attempts.
// The validator is pure: given (tool, input, phase, config) it returns
// a decision and performs no I/O, which keeps it trivially testable.
package safety

import (
	"fmt"
	"strings"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

// Decision is the validator's verdict on one tool call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the affirmative decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Deny reasons are fixed strings the executor can pattern on.
const (
	ReasonGitBlocked     = "version-control state changes not permitted"
	ReasonPackageManager = "use the designated package manager instead"
	ReasonBlocklist      = "command in configured blocklist"
)

// blockedGitOperations are the version-control subcommands that mutate
// repository state. Matched as "git <op>" within the command string.
var blockedGitOperations = []string{
	"commit",
	"push",
	"pull",
	"merge",
	"rebase",
	"checkout",
	"reset",
	"stash",
	"cherry-pick",
	"revert",
	"branch -d",
	"branch -D",
	"branch --delete",
}

// blockedPackageCommands are forbidden package manager invocations,
// matched literally.
var blockedPackageCommands = []string{
	"pip install",
	"pip uninstall",
	"pip freeze",
	"pip3 install",
	"pip3 uninstall",
	"python -m pip",
	"python3 -m pip",
	"python -m venv",
	"python3 -m venv",
	"virtualenv",
	"conda install",
	"conda create",
	"poetry install",
	"poetry add",
	"pipenv install",
}

// shellTools are tool names whose input carries a shell command.
var shellTools = map[string]bool{
	"Bash":  true,
	"bash":  true,
	"shell": true,
}

// Validator applies the phase-tool table, the version-control policy,
// the package manager policy and the configured blocklist.
type Validator struct {
	safety     config.SafetyConfig
	phaseTools map[types.Phase][]string
}

// New creates a validator over the given safety config and per-phase
// tool allowlists.
func New(safety config.SafetyConfig, phaseTools map[types.Phase][]string) *Validator {
	return &Validator{safety: safety, phaseTools: phaseTools}
}

// ValidateToolUse decides whether one tool invocation may proceed.
func (v *Validator) ValidateToolUse(toolName string, toolInput map[string]any, phase types.Phase) Decision {
	if !v.toolAllowedInPhase(toolName, phase) {
		return Deny(fmt.Sprintf("tool not allowed in phase %s", phase))
	}

	if shellTools[toolName] {
		command, _ := toolInput["command"].(string)
		return v.ValidateCommand(command)
	}
	return Allow
}

// ValidateCommand checks a shell command string against the blocked
// sets. Exported separately so backpressure commands get the same
// screening as executor tool calls.
func (v *Validator) ValidateCommand(command string) Decision {
	lowered := strings.ToLower(strings.TrimSpace(command))

	if v.safety.GitReadOnly && strings.Contains(lowered, "git ") {
		for _, op := range blockedGitOperations {
			if v.gitOperationAllowed(op) {
				continue
			}
			if strings.Contains(lowered, "git "+strings.ToLower(op)) {
				return Deny(ReasonGitBlocked)
			}
		}
	}

	for _, blocked := range blockedPackageCommands {
		if strings.Contains(lowered, blocked) {
			return Deny(ReasonPackageManager)
		}
	}

	for _, blocked := range v.safety.BlockedCommands {
		if blocked == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(blocked)) {
			return Deny(ReasonBlocklist)
		}
	}

	return Allow
}

// gitOperationAllowed reports whether the operator explicitly allowed
// a git operation. The default allowlist holds only read-only queries.
func (v *Validator) gitOperationAllowed(op string) bool {
	for _, allowed := range v.safety.AllowedGitOperations {
		if strings.EqualFold(allowed, op) {
			return true
		}
	}
	return false
}

// toolAllowedInPhase consults the phase-tool table. Orchestrator-owned
// tools (the ralph_ mutator surface) bypass the table: the tool surface
// enforces its own invariants.
func (v *Validator) toolAllowedInPhase(toolName string, phase types.Phase) bool {
	if strings.HasPrefix(toolName, "ralph_") {
		return true
	}
	allowed, ok := v.phaseTools[phase]
	if !ok {
		return false
	}
	for _, name := range allowed {
		if name == toolName {
			return true
		}
	}
	return false
}

// ResultMetadata is the optional accounting attached to a tool result.
type ResultMetadata struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Usage accumulates post-call accounting across an iteration.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	ToolCalls    int
}

// RecordToolResult is the post-call hook: it folds any metadata a tool
// result carried into the iteration's running usage.
func (u *Usage) RecordToolResult(meta *ResultMetadata) {
	u.ToolCalls++
	if meta == nil {
		return
	}
	u.InputTokens += meta.InputTokens
	u.OutputTokens += meta.OutputTokens
	u.CostUSD += meta.CostUSD
}
