// Package llm is the concrete executor transport: it shells out to the
// Claude Code CLI in stream-json mode and routes every observed tool
// invocation through the orchestrator's dispatch callback.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/CipherScout/Ralph/internal/budget"
	"github.com/CipherScout/Ralph/internal/executor"
	"github.com/CipherScout/Ralph/internal/utils"
)

// Claude implements the executor port over the Claude Code CLI.
type Claude struct {
	BinaryPath string
}

// NewClaude creates a Claude backend, resolving the binary path.
func NewClaude(binaryPath string) *Claude {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &Claude{BinaryPath: utils.ResolveBinaryPath(binaryPath)}
}

// CheckInstalled verifies the claude binary is reachable.
func CheckInstalled(binaryPath string) error {
	resolved := utils.ResolveBinaryPath(binaryPath)
	if _, err := os.Stat(resolved); err == nil {
		return nil
	}
	if _, err := exec.LookPath(resolved); err == nil {
		return nil
	}
	return utils.ClaudeNotFoundError()
}

// iterationHandler accumulates one iteration's events and applies the
// dispatch callback to each tool call, in order.
type iterationHandler struct {
	dispatch executor.ToolDispatcher

	inputTokens   int
	outputTokens  int
	toolCalls     int
	taskCompleted bool
	taskID        string
	needsHandoff  bool
	resultText    string
	resultIsError bool
	sawResult     bool
}

func (h *iterationHandler) OnToolUse(name string, input json.RawMessage) {
	h.toolCalls++
	if h.dispatch == nil {
		return
	}
	outcome := h.dispatch(name, input)
	if outcome.TaskCompleted {
		h.taskCompleted = true
		h.taskID = outcome.TaskID
	}
}

func (h *iterationHandler) OnText(text string) {
	if strings.Contains(text, "###HANDOFF_NEEDED###") {
		h.needsHandoff = true
	}
}

func (h *iterationHandler) OnUsage(usage UsageBlock) {
	h.inputTokens += usage.InputTokens
	h.outputTokens += usage.OutputTokens
}

func (h *iterationHandler) OnResult(result string, isError bool) {
	h.sawResult = true
	h.resultText = result
	h.resultIsError = isError
}

// RunIteration executes one supervised CLI invocation. Cancellation
// through ctx kills the subprocess and surfaces as Error="cancelled".
func (c *Claude) RunIteration(ctx context.Context, req executor.Request, dispatch executor.ToolDispatcher) executor.IterationResult {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := c.buildArgs(req)
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	cmd.Dir = req.WorkDir
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed(start, "failed to create stdout pipe: "+err.Error())
	}
	if err := cmd.Start(); err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return failed(start, utils.ClaudeNotFoundError().Error())
		}
		return failed(start, "failed to start claude: "+err.Error())
	}

	handler := &iterationHandler{dispatch: dispatch}
	parseErr := ParseStream(stdout, handler)
	waitErr := cmd.Wait()

	result := executor.IterationResult{
		Success:       true,
		TaskCompleted: handler.taskCompleted,
		TaskID:        handler.taskID,
		InputTokens:   handler.inputTokens,
		OutputTokens:  handler.outputTokens,
		NeedsHandoff:  handler.needsHandoff,
		ToolCalls:     handler.toolCalls,
		DurationMS:    time.Since(start).Milliseconds(),
	}
	result.CostUSD = budget.Cost(result.InputTokens, result.OutputTokens, req.Model)

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		result.Success = false
		result.Error = "cancelled"
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Success = false
		result.Error = "timeout"
	case waitErr != nil:
		result.Success = false
		result.Error = "claude exited: " + waitErr.Error()
	case parseErr != nil:
		result.Success = false
		result.Error = "stream parse error: " + parseErr.Error()
	case handler.resultIsError:
		result.Success = false
		result.Error = handler.resultText
	}

	return result
}

func failed(start time.Time, msg string) executor.IterationResult {
	return executor.IterationResult{
		Success:    false,
		Error:      msg,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func (c *Claude) buildArgs(req executor.Request) []string {
	args := []string{"--dangerously-skip-permissions"}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.UserPrompt != "" {
		args = append(args, "-p", req.UserPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	args = append(args, "--output-format", "stream-json", "--verbose")
	return args
}
