package agent

import (
	"encoding/json"
	"strings"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/llm"
)

// toLLMMessages converts conversation history to provider messages. System
// messages are returned separately so they can be folded into the system
// prompt; every provider accepts system text there.
func toLLMMessages(msgs []domain.Message) (out []llm.Message, system []string) {
	for _, m := range msgs {
		switch v := m.(type) {
		case domain.UserMessage:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: v.Text})
		case domain.AssistantMessage:
			lm := llm.Message{Role: llm.RoleAssistant, Content: v.Text}
			for _, tc := range v.ToolCalls {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Input: encodeArgs(tc.Args)})
			}
			out = append(out, lm)
		case domain.ToolResultMessage:
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				Content:    v.Content,
				ToolCallID: v.ToolCallID,
				Name:       v.ToolName,
			})
		case domain.SystemMessage:
			if t := strings.TrimSpace(v.Text); t != "" {
				system = append(system, t)
			}
		}
	}
	return out, system
}

// fromLLMToolCalls converts provider tool calls. Arguments that are not a
// JSON object are kept under "input" so the tool still sees them.
func fromLLMToolCalls(calls []llm.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = domain.NewID()
		}
		out = append(out, domain.ToolCall{ID: id, Name: c.Name, Args: decodeArgs(c.Input)})
	}
	return out
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeArgs(input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(input), &args); err != nil || args == nil {
		return map[string]any{"input": input}
	}
	return args
}
