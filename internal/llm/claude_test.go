package llm

import (
	"encoding/json"
	"testing"

	"github.com/CipherScout/Ralph/internal/executor"
)

func requestFixture() executor.Request {
	return executor.Request{
		SystemPrompt: "system",
		UserPrompt:   "user",
		AllowedTools: []string{"Read", "Bash"},
		MaxTurns:     100,
		Model:        "claude-sonnet-4-20250514",
	}
}

func TestNewClaudeDefaultsBinary(t *testing.T) {
	c := NewClaude("")
	if c.BinaryPath == "" {
		t.Error("binary path must default")
	}
}

func TestIterationHandlerAccumulates(t *testing.T) {
	dispatched := 0
	h := &iterationHandler{dispatch: func(name string, input json.RawMessage) executor.DispatchOutcome {
		dispatched++
		if name == "ralph_mark_task_complete" {
			return executor.DispatchOutcome{Success: true, TaskCompleted: true, TaskID: "a"}
		}
		return executor.DispatchOutcome{Success: true}
	}}

	h.OnUsage(UsageBlock{InputTokens: 100, OutputTokens: 20})
	h.OnToolUse("Read", nil)
	h.OnToolUse("ralph_mark_task_complete", json.RawMessage(`{"task_id":"a"}`))
	h.OnResult("done", false)

	if dispatched != 2 || h.toolCalls != 2 {
		t.Errorf("dispatched=%d toolCalls=%d", dispatched, h.toolCalls)
	}
	if !h.taskCompleted || h.taskID != "a" {
		t.Errorf("taskCompleted=%v taskID=%q", h.taskCompleted, h.taskID)
	}
	if h.inputTokens != 100 || h.outputTokens != 20 {
		t.Errorf("tokens = %d/%d", h.inputTokens, h.outputTokens)
	}
	if !h.sawResult || h.resultText != "done" {
		t.Errorf("result not recorded")
	}
}
