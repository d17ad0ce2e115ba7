// Package executor defines the port over the LLM transport. The core
// sees the executor as an async contract: one prompt in, one
// IterationResult out, with every tool invocation routed back through
// the orchestrator's dispatch callback. The concrete transport lives
// in internal/llm.
package executor

import (
	"context"
	"encoding/json"
	"time"
)

// Request is one executor invocation: the assembled prompts plus the
// phase's tool allowlist and turn cap.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	AllowedTools []string
	MaxTurns     int
	Model        string
	Timeout      time.Duration
	WorkDir      string
}

// DispatchOutcome is what the orchestrator's tool router returns for
// one observed tool invocation. A denial is a normal tool failure for
// the executor, never an orchestrator error.
type DispatchOutcome struct {
	Denied        bool
	DenyReason    string
	Success       bool
	Content       string
	TaskCompleted bool
	TaskID        string
}

// ToolDispatcher routes a tool invocation through the safety validator
// and, when allowed and orchestrator-owned, the tool surface. It is
// called once per tool call, in emission order; the call's effect is
// persisted before the dispatcher returns.
type ToolDispatcher func(toolName string, input json.RawMessage) DispatchOutcome

// IterationResult is the executor's account of one iteration.
type IterationResult struct {
	Success       bool
	TaskCompleted bool
	TaskID        string
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	NeedsHandoff  bool
	Error         string
	ToolCalls     int
	DurationMS    int64
}

// TokensUsed is the iteration's combined token count.
func (r IterationResult) TokensUsed() int {
	return r.InputTokens + r.OutputTokens
}

// Executor is the port the iteration loop drives. Implementations must
// honor context cancellation: on cancel they return promptly with
// Error = "cancelled".
type Executor interface {
	RunIteration(ctx context.Context, req Request, dispatch ToolDispatcher) IterationResult
}
