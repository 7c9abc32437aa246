package domain

import (
	"slices"
	"time"
)

// Step is the free-form status tag recorded in State.CurrentStep.
type Step string

const (
	StepSetupComplete       Step = "setup_complete"
	StepMetadataUnavailable Step = "metadata_unavailable"
	StepToolsExecuted       Step = "tools_executed"
	StepGenerateFinalAnswer Step = "generate_final_answer"
	StepRetrySearch         Step = "retry_search"
	StepEvaluationError     Step = "evaluation_error"
	StepRetryInitiated      Step = "retry_initiated"
	StepWebSearchInitiated  Step = "web_search_initiated"
	StepLLMError            Step = "llm_error"
	StepNoSummaryNeeded     Step = "no_summary_needed"
	StepInsufficientSummary Step = "insufficient_for_summary"
	StepConversationSummary Step = "conversation_summarized"
	StepSummarizationFailed Step = "summarization_failed"
	StepDone                Step = "done"
)

// TopicMetadata describes the topic a conversation is about.
type TopicMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Evaluation  string `json:"evaluation,omitempty"`
}

// Complete reports whether all three fields are populated. Complete metadata
// is never fetched again.
func (t TopicMetadata) Complete() bool {
	return t.Title != "" && t.Description != "" && t.Evaluation != ""
}

// Merge fills empty fields from other.
func (t TopicMetadata) Merge(other TopicMetadata) TopicMetadata {
	if t.Title == "" {
		t.Title = other.Title
	}
	if t.Description == "" {
		t.Description = other.Description
	}
	if t.Evaluation == "" {
		t.Evaluation = other.Evaluation
	}
	return t
}

// Removal is a tombstone asking for the message with ID to be deleted.
type Removal struct {
	ID string `json:"id"`
}

// State is the per-session orchestration aggregate.
type State struct {
	Messages         []Message
	TopicID          string
	Topic            TopicMetadata
	CurrentStep      Step
	RetryCount       int
	Summary          string
	MessageCount     int
	LastSummarizedAt int
	ToolUsageCount   int
	LastEvaluation   *Evaluation
}

// NewState returns an empty state bound to a topic.
func NewState(topicID string) State {
	return State{TopicID: topicID}
}

// Clone returns a copy whose message slice can be appended to independently.
func (s State) Clone() State {
	s.Messages = slices.Clone(s.Messages)
	if s.LastEvaluation != nil {
		ev := *s.LastEvaluation
		s.LastEvaluation = &ev
	}
	return s
}

// Append adds messages to the end of the history and updates MessageCount.
func (s *State) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.MessageCount = len(s.Messages)
}

// Apply deletes every message named by a removal. Unknown IDs are ignored,
// so applying the same removals twice is harmless. It returns the number of
// messages removed.
func (s *State) Apply(removals []Removal) int {
	if len(removals) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(removals))
	for _, r := range removals {
		drop[r.ID] = true
	}
	before := len(s.Messages)
	s.Messages = slices.DeleteFunc(slices.Clone(s.Messages), func(m Message) bool {
		return drop[m.MessageID()]
	})
	s.MessageCount = len(s.Messages)
	return before - len(s.Messages)
}

// Conversational returns user messages and terminal assistant messages in order.
func (s State) Conversational() []Message {
	var out []Message
	for _, m := range s.Messages {
		if IsConversational(m) {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message, or nil when the history is empty.
func (s State) Last() Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// LastAssistant returns the most recent assistant message.
func (s State) LastAssistant() (AssistantMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if am, ok := s.Messages[i].(AssistantMessage); ok {
			return am, true
		}
	}
	return AssistantMessage{}, false
}

// LastToolResult returns the most recent tool result.
func (s State) LastToolResult() (ToolResultMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if tr, ok := s.Messages[i].(ToolResultMessage); ok {
			return tr, true
		}
	}
	return ToolResultMessage{}, false
}

// LastUserText returns the text of the most recent user message.
func (s State) LastUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if um, ok := s.Messages[i].(UserMessage); ok {
			return um.Text
		}
	}
	return ""
}

// QuestionFor finds the user message that led to the given tool call: the
// nearest user message before the assistant message that owns toolCallID.
func (s State) QuestionFor(toolCallID string) (string, bool) {
	owner := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if am, ok := s.Messages[i].(AssistantMessage); ok && am.OwnsCall(toolCallID) {
			owner = i
			break
		}
	}
	for i := owner - 1; i >= 0; i-- {
		if um, ok := s.Messages[i].(UserMessage); ok {
			return um.Text, true
		}
	}
	return "", false
}

// FinalAnswer returns the text of the last terminal assistant message.
func (s State) FinalAnswer() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if am, ok := s.Messages[i].(AssistantMessage); ok && !am.HasToolCalls() {
			return am.Text
		}
	}
	return ""
}

// Snapshot is the persisted copy of a topic's state. There is one per topic;
// saving replaces the previous one.
type Snapshot struct {
	TopicKey      string    `json:"topicKey"`
	SessionHandle string    `json:"sessionHandle"`
	State         State     `json:"-"`
	SavedAt       time.Time `json:"savedAt"`
}

// SnapshotInfo is a lightweight listing entry for a stored snapshot.
type SnapshotInfo struct {
	TopicKey      string    `json:"topicKey"`
	SessionHandle string    `json:"sessionHandle"`
	Title         string    `json:"title,omitempty"`
	Messages      int       `json:"messages"`
	HasSummary    bool      `json:"hasSummary"`
	SavedAt       time.Time `json:"savedAt"`
}
