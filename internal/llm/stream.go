package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamEvent is one line of the claude CLI's stream-json output.
type StreamEvent struct {
	Type    string          `json:"type"`
	Message *MessageContent `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// MessageContent is the message field of assistant events.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *UsageBlock    `json:"usage,omitempty"`
}

// ContentBlock is a single text or tool_use block.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// UsageBlock carries token accounting from the transport.
type UsageBlock struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// StreamHandler receives parsed events in emission order.
type StreamHandler interface {
	OnToolUse(name string, input json.RawMessage)
	OnText(text string)
	OnUsage(usage UsageBlock)
	OnResult(result string, isError bool)
}

// ParseStream reads stream-json lines and feeds the handler. Malformed
// lines are skipped; the transport interleaves diagnostics with events.
func ParseStream(reader io.Reader, handler StreamHandler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		switch event.Type {
		case "assistant":
			if event.Message == nil {
				continue
			}
			if event.Message.Usage != nil {
				handler.OnUsage(*event.Message.Usage)
			}
			for _, content := range event.Message.Content {
				switch content.Type {
				case "tool_use":
					handler.OnToolUse(content.Name, content.Input)
				case "text":
					handler.OnText(cleanText(content.Text))
				}
			}
		case "result":
			handler.OnResult(cleanText(event.Result), event.IsError)
		}
	}
	return scanner.Err()
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
