package codec

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/kaggler/internal/domain"
)

// StateVersion is bumped whenever StateRecord changes incompatibly.
const StateVersion = 1

// StateRecord is the portable form of domain.State. Messages is typed as
// []any so records read back from storage can be reconstructed even when a
// foreign writer dropped or renamed fields.
type StateRecord struct {
	Version          int                  `json:"version"`
	TopicID          string               `json:"topicId"`
	Topic            domain.TopicMetadata `json:"topic"`
	Messages         []any                `json:"messages"`
	CurrentStep      domain.Step          `json:"currentStep,omitempty"`
	RetryCount       int                  `json:"retryCount"`
	Summary          string               `json:"summary,omitempty"`
	MessageCount     int                  `json:"messageCount"`
	LastSummarizedAt int                  `json:"lastSummarizedAt"`
	ToolUsageCount   int                  `json:"toolUsageCount"`
	LastEvaluation   *domain.Evaluation   `json:"lastEvaluation,omitempty"`
}

// EncodeState converts a state to its portable record.
func (c *Codec) EncodeState(st domain.State) StateRecord {
	msgs := make([]any, len(st.Messages))
	for i, m := range st.Messages {
		msgs[i] = c.Encode(m)
	}
	return StateRecord{
		Version:          StateVersion,
		TopicID:          st.TopicID,
		Topic:            st.Topic,
		Messages:         msgs,
		CurrentStep:      st.CurrentStep,
		RetryCount:       st.RetryCount,
		Summary:          st.Summary,
		MessageCount:     st.MessageCount,
		LastSummarizedAt: st.LastSummarizedAt,
		ToolUsageCount:   st.ToolUsageCount,
		LastEvaluation:   st.LastEvaluation,
	}
}

// DecodeState reconstructs a state from its record. Every embedded message
// goes through DecodeValue.
func (c *Codec) DecodeState(rec StateRecord) domain.State {
	st := domain.State{
		TopicID:          rec.TopicID,
		Topic:            rec.Topic,
		CurrentStep:      rec.CurrentStep,
		RetryCount:       rec.RetryCount,
		Summary:          rec.Summary,
		MessageCount:     rec.MessageCount,
		LastSummarizedAt: rec.LastSummarizedAt,
		ToolUsageCount:   rec.ToolUsageCount,
		LastEvaluation:   rec.LastEvaluation,
	}
	for _, raw := range rec.Messages {
		st.Messages = append(st.Messages, c.DecodeValue(raw))
	}
	return st
}

// MarshalState encodes a state as JSON.
func (c *Codec) MarshalState(st domain.State) ([]byte, error) {
	data, err := json.Marshal(c.EncodeState(st))
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a state written by MarshalState.
func (c *Codec) UnmarshalState(data []byte) (domain.State, error) {
	var rec StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.State{}, fmt.Errorf("decoding state: %w", err)
	}
	if rec.Version > StateVersion {
		c.log.Warn().Int("version", rec.Version).Msg("state record is newer than this build, decoding best-effort")
	}
	return c.DecodeState(rec), nil
}
