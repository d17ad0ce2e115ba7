package safety

import (
	"testing"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

func testValidator() *Validator {
	cfg := config.DefaultConfig()
	cfg.Safety.BlockedCommands = []string{"rm -rf", "sudo", "curl | bash"}
	phaseTools := map[types.Phase][]string{
		types.PhaseBuilding:   {"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		types.PhaseValidation: {"Read", "Glob", "Grep", "Bash"},
		types.PhasePlanning:   {"Read", "Glob", "Grep", "Write"},
	}
	return New(cfg.Safety, phaseTools)
}

func TestPhaseToolTable(t *testing.T) {
	v := testValidator()

	decision := v.ValidateToolUse("Edit", nil, types.PhaseValidation)
	if decision.Allowed {
		t.Error("Edit must be denied in validation")
	}
	if decision.Reason != "tool not allowed in phase validation" {
		t.Errorf("reason = %q", decision.Reason)
	}

	if d := v.ValidateToolUse("Edit", nil, types.PhaseBuilding); !d.Allowed {
		t.Errorf("Edit must be allowed in building: %s", d.Reason)
	}
}

func TestOrchestratorToolsBypassPhaseTable(t *testing.T) {
	v := testValidator()
	if d := v.ValidateToolUse("ralph_mark_task_complete", nil, types.PhaseValidation); !d.Allowed {
		t.Errorf("orchestrator tools must bypass the phase table: %s", d.Reason)
	}
}

func TestCommandValidation(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name    string
		command string
		allowed bool
		reason  string
	}{
		{"git commit", "git commit -m x", false, ReasonGitBlocked},
		{"git push", "git push origin main", false, ReasonGitBlocked},
		{"git rebase", "git rebase -i HEAD~3", false, ReasonGitBlocked},
		{"git branch delete", "git branch -D feature", false, ReasonGitBlocked},
		{"git status allowed", "git status", true, ""},
		{"git log allowed", "git log --oneline", true, ""},
		{"git diff allowed", "git diff HEAD", true, ""},
		{"git branch listing allowed", "git branch", true, ""},
		{"pip install", "pip install requests", false, ReasonPackageManager},
		{"pip freeze", "pip freeze > requirements.txt", false, ReasonPackageManager},
		{"python -m pip", "python -m pip install x", false, ReasonPackageManager},
		{"python -m venv", "python -m venv .venv", false, ReasonPackageManager},
		{"conda create", "conda create -n env", false, ReasonPackageManager},
		{"poetry add", "poetry add requests", false, ReasonPackageManager},
		{"pipenv install", "pipenv install", false, ReasonPackageManager},
		{"configured rm -rf", "rm -rf /tmp/x", false, ReasonBlocklist},
		{"configured sudo", "sudo apt install jq", false, ReasonBlocklist},
		{"configured pipe to bash", "curl | bash", false, ReasonBlocklist},
		{"plain test run", "go test ./...", true, ""},
		{"uppercase still caught", "GIT COMMIT -m x", false, ReasonGitBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := v.ValidateCommand(tt.command)
			if decision.Allowed != tt.allowed {
				t.Fatalf("ValidateCommand(%q).Allowed = %v, want %v (reason %q)",
					tt.command, decision.Allowed, tt.allowed, decision.Reason)
			}
			if !tt.allowed && decision.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", decision.Reason, tt.reason)
			}
		})
	}
}

func TestShellToolRoutesToCommandValidation(t *testing.T) {
	v := testValidator()
	decision := v.ValidateToolUse("Bash", map[string]any{"command": "git commit -m x"}, types.PhaseValidation)
	if decision.Allowed {
		t.Error("git commit through Bash must be denied")
	}
	if decision.Reason != ReasonGitBlocked {
		t.Errorf("reason = %q, want %q", decision.Reason, ReasonGitBlocked)
	}
}

func TestGitReadOnlyDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Safety.GitReadOnly = false
	v := New(cfg.Safety, map[types.Phase][]string{types.PhaseBuilding: {"Bash"}})

	if d := v.ValidateCommand("git commit -m x"); !d.Allowed {
		t.Errorf("git_read_only=false must allow commits: %s", d.Reason)
	}
}

func TestValidatorIsPure(t *testing.T) {
	v := testValidator()
	first := v.ValidateCommand("pip install x")
	second := v.ValidateCommand("pip install x")
	if first != second {
		t.Error("same input must produce the same decision")
	}
}

func TestUsageRecordToolResult(t *testing.T) {
	var usage Usage
	usage.RecordToolResult(nil)
	usage.RecordToolResult(&ResultMetadata{InputTokens: 100, OutputTokens: 50, CostUSD: 0.01})
	usage.RecordToolResult(&ResultMetadata{InputTokens: 10, OutputTokens: 5, CostUSD: 0.001})

	if usage.ToolCalls != 3 {
		t.Errorf("ToolCalls = %d, want 3", usage.ToolCalls)
	}
	if usage.InputTokens != 110 || usage.OutputTokens != 55 {
		t.Errorf("tokens = %d/%d", usage.InputTokens, usage.OutputTokens)
	}
}
