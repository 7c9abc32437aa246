package agent

import (
	"time"

	"github.com/soyeahso/kaggler/internal/domain"
)

// EventType names a chunk of a streamed turn.
type EventType string

const (
	EventDelta      EventType = "delta"       // incremental answer text
	EventStep       EventType = "step"        // the engine entered a node
	EventToolStart  EventType = "tool_start"  // a tool is about to run
	EventToolResult EventType = "tool_result" // a tool finished
	EventDone       EventType = "done"        // turn complete, Result set
	EventError      EventType = "error"       // turn failed, Error set
)

// TurnEvent is one chunk of a streamed turn. A stream carries any number of
// delta, step and tool events followed by exactly one done or error event.
type TurnEvent struct {
	Type       EventType   `json:"type"`
	Content    string      `json:"content,omitempty"`
	Node       string      `json:"node,omitempty"`
	Step       domain.Step `json:"step,omitempty"`
	Tool       string      `json:"tool,omitempty"`
	ToolCallID string      `json:"toolCallId,omitempty"`
	Result     *TurnResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// TurnRequest is a user message submitted for a topic. SessionHandle is
// optional; when empty the registry's current handle for the topic is used.
type TurnRequest struct {
	TopicID       string `json:"topicId"`
	SessionHandle string `json:"sessionHandle,omitempty"`
	Text          string `json:"text"`
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	State         domain.State  `json:"-"`
	Answer        string        `json:"answer"`
	TopicID       string        `json:"topicId"`
	SessionHandle string        `json:"sessionHandle"`
	Restored      bool          `json:"restored"`
	Step          domain.Step   `json:"step"`
	RetryCount    int           `json:"retryCount"`
	ToolUsage     int           `json:"toolUsage"`
	Messages      int           `json:"messages"`
	Duration      time.Duration `json:"duration"`
}

func newTurnResult(st domain.State, handle string, restored bool, d time.Duration) *TurnResult {
	return &TurnResult{
		State:         st,
		Answer:        st.FinalAnswer(),
		TopicID:       st.TopicID,
		SessionHandle: handle,
		Restored:      restored,
		Step:          st.CurrentStep,
		RetryCount:    st.RetryCount,
		ToolUsage:     st.ToolUsageCount,
		Messages:      len(st.Messages),
		Duration:      d,
	}
}
