// Package domain defines the conversation model shared by the orchestration
// engine, the codec and the persistence layers.
package domain

import (
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// Kind discriminates the Message variants.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindSystem    Kind = "system"
)

// Kinds lists every variant in a stable order.
var Kinds = []Kind{KindUser, KindAssistant, KindTool, KindSystem}

// Message is one atomic unit of a conversation. The set of implementations
// is closed: UserMessage, AssistantMessage, ToolResultMessage and SystemMessage.
type Message interface {
	Kind() Kind
	MessageID() string
	isMessage()
}

// ToolCall is a request from the assistant to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// UserMessage is input typed by the user.
type UserMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AssistantMessage is model output. Messages carrying ToolCalls are
// non-terminal and expect tool results next.
type AssistantMessage struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// ToolResultMessage is the output of one tool invocation, correlated to the
// ToolCall that requested it.
type ToolResultMessage struct {
	ID         string `json:"id"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Content    string `json:"content"`
}

// SystemMessage carries standing instructions. Summarization never prunes it.
type SystemMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (UserMessage) Kind() Kind       { return KindUser }
func (AssistantMessage) Kind() Kind  { return KindAssistant }
func (ToolResultMessage) Kind() Kind { return KindTool }
func (SystemMessage) Kind() Kind     { return KindSystem }

func (m UserMessage) MessageID() string       { return m.ID }
func (m AssistantMessage) MessageID() string  { return m.ID }
func (m ToolResultMessage) MessageID() string { return m.ID }
func (m SystemMessage) MessageID() string     { return m.ID }

func (UserMessage) isMessage()       {}
func (AssistantMessage) isMessage()  {}
func (ToolResultMessage) isMessage() {}
func (SystemMessage) isMessage()     {}

// HasToolCalls reports whether the assistant is asking for tool execution.
func (m AssistantMessage) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// OwnsCall reports whether one of the message's tool calls has the given ID.
func (m AssistantMessage) OwnsCall(id string) bool {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return true
		}
	}
	return false
}

// NewID returns a fresh message identifier.
func NewID() string { return uuid.NewString() }

// NewUserMessage creates a UserMessage with a fresh ID.
func NewUserMessage(text string) UserMessage {
	return UserMessage{ID: NewID(), Text: text}
}

// NewAssistantMessage creates an AssistantMessage with a fresh ID.
func NewAssistantMessage(text string, calls ...ToolCall) AssistantMessage {
	if len(calls) == 0 {
		calls = nil
	}
	return AssistantMessage{ID: NewID(), Text: text, ToolCalls: calls}
}

// NewToolResultMessage creates a ToolResultMessage with a fresh ID.
func NewToolResultMessage(call ToolCall, content string) ToolResultMessage {
	return ToolResultMessage{ID: NewID(), ToolCallID: call.ID, ToolName: call.Name, Content: content}
}

// NewSystemMessage creates a SystemMessage with a fresh ID.
func NewSystemMessage(text string) SystemMessage {
	return SystemMessage{ID: NewID(), Text: text}
}

// Text returns the human-readable content of any message variant.
func Text(m Message) string {
	switch v := m.(type) {
	case UserMessage:
		return v.Text
	case AssistantMessage:
		return v.Text
	case ToolResultMessage:
		return v.Content
	case SystemMessage:
		return v.Text
	default:
		return ""
	}
}

// IsConversational reports whether m is a user message or a terminal
// assistant message. These are the messages summarization counts and keeps.
func IsConversational(m Message) bool {
	switch v := m.(type) {
	case UserMessage:
		return true
	case AssistantMessage:
		return !v.HasToolCalls()
	default:
		return false
	}
}

// CloneArgs copies a tool-call argument map so callers can add keys without
// mutating a message already appended to history.
func CloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+1)
	maps.Copy(out, args)
	return out
}

// CheckToolCorrelation verifies that every tool result references a tool
// call emitted by a strictly earlier assistant message.
func CheckToolCorrelation(msgs []Message) error {
	seen := make(map[string]bool)
	for i, m := range msgs {
		switch v := m.(type) {
		case AssistantMessage:
			for _, tc := range v.ToolCalls {
				seen[tc.ID] = true
			}
		case ToolResultMessage:
			if !seen[v.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q references unknown tool call %q", i, v.ID, v.ToolCallID)
			}
		}
	}
	return nil
}
