package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

type recordingHandler struct {
	tools   []string
	inputs  []string
	texts   []string
	usage   UsageBlock
	result  string
	isError bool
}

func (h *recordingHandler) OnToolUse(name string, input json.RawMessage) {
	h.tools = append(h.tools, name)
	h.inputs = append(h.inputs, string(input))
}
func (h *recordingHandler) OnText(text string) { h.texts = append(h.texts, text) }
func (h *recordingHandler) OnUsage(usage UsageBlock) {
	h.usage.InputTokens += usage.InputTokens
	h.usage.OutputTokens += usage.OutputTokens
}
func (h *recordingHandler) OnResult(result string, isError bool) {
	h.result = result
	h.isError = isError
}

func TestParseStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"assistant","message":{"usage":{"input_tokens":1200,"output_tokens":300},"content":[{"type":"text","text":"Starting the task"},{"type":"tool_use","name":"ralph_mark_task_in_progress","input":{"task_id":"a"}}]}}`,
		`not valid json at all`,
		`{"type":"assistant","message":{"usage":{"input_tokens":800,"output_tokens":150},"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`,
		``,
		`{"type":"result","result":"iteration finished"}`,
	}, "\n")

	var h recordingHandler
	if err := ParseStream(strings.NewReader(stream), &h); err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	if len(h.tools) != 2 || h.tools[0] != "ralph_mark_task_in_progress" || h.tools[1] != "Bash" {
		t.Errorf("tools = %v", h.tools)
	}
	if !strings.Contains(h.inputs[0], `"task_id":"a"`) {
		t.Errorf("tool input not forwarded: %s", h.inputs[0])
	}
	if h.usage.InputTokens != 2000 || h.usage.OutputTokens != 450 {
		t.Errorf("usage = %+v", h.usage)
	}
	if len(h.texts) != 1 || h.texts[0] != "Starting the task" {
		t.Errorf("texts = %v", h.texts)
	}
	if h.result != "iteration finished" || h.isError {
		t.Errorf("result = %q isError=%v", h.result, h.isError)
	}
}

func TestParseStreamErrorResult(t *testing.T) {
	stream := `{"type":"result","result":"credit exhausted","is_error":true}`
	var h recordingHandler
	if err := ParseStream(strings.NewReader(stream), &h); err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if !h.isError || h.result != "credit exhausted" {
		t.Errorf("result = %q isError=%v", h.result, h.isError)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"multi\nline\ntext", "multi line text"},
		{"  spaced    out  ", "spaced out"},
	}
	for _, tt := range tests {
		if got := cleanText(tt.in); got != tt.want {
			t.Errorf("cleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	c := &Claude{BinaryPath: "claude"}
	args := c.buildArgs(requestFixture())

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--dangerously-skip-permissions",
		"--model claude-sonnet-4-20250514",
		"--max-turns 100",
		"--allowedTools Read,Bash",
		"--output-format stream-json",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}
