package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/logging"
)

// SummaryResult describes one summarization pass.
type SummaryResult struct {
	Ran      bool
	Summary  string
	Removals []domain.Removal
	Folded   int // conversational messages folded into the summary
	Retained int
	Step     domain.Step
}

// Summarizer compacts older conversation into a rolling summary.
type Summarizer struct {
	client      llm.Client
	temperature float64
	maxTokens   int
	threshold   int
	retain      int
	log         *logging.Logger
}

// NewSummarizer creates a summarizer that runs once the number of
// conversational messages exceeds threshold, keeping the last retain
// messages verbatim.
func NewSummarizer(client llm.Client, temperature float64, threshold, retain int, log *logging.Logger) *Summarizer {
	return &Summarizer{
		client:      client,
		temperature: temperature,
		maxTokens:   1024,
		threshold:   threshold,
		retain:      retain,
		log:         log.Sub("agent.summarizer"),
	}
}

// ShouldSummarize reports whether the state has more conversational
// messages than the threshold.
func (s *Summarizer) ShouldSummarize(st domain.State) bool {
	return len(st.Conversational()) > s.threshold
}

// Summarize folds all but the last retain conversational messages into the
// summary and returns tombstones for every message except system messages
// and the retained ones. Tool traffic is always removed. The state itself
// is not modified; on error the caller keeps it as is.
func (s *Summarizer) Summarize(ctx context.Context, st domain.State) (SummaryResult, error) {
	if !s.ShouldSummarize(st) {
		return SummaryResult{Step: domain.StepNoSummaryNeeded}, nil
	}

	conv := st.Conversational()
	if len(conv) <= s.retain {
		return SummaryResult{Step: domain.StepInsufficientSummary}, nil
	}
	fold := conv[:len(conv)-s.retain]
	kept := conv[len(conv)-s.retain:]

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildSummaryPrompt(st.Summary, renderForSummary(fold))}},
		MaxTokens:   s.maxTokens,
		Temperature: llm.Float(s.temperature),
	})
	if err != nil {
		return SummaryResult{Step: domain.StepSummarizationFailed}, fmt.Errorf("summary request: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return SummaryResult{Step: domain.StepSummarizationFailed}, fmt.Errorf("summary request: empty response")
	}

	keep := make(map[string]bool, len(kept))
	for _, m := range kept {
		keep[m.MessageID()] = true
	}
	var removals []domain.Removal
	for _, m := range st.Messages {
		if _, ok := m.(domain.SystemMessage); ok || keep[m.MessageID()] {
			continue
		}
		removals = append(removals, domain.Removal{ID: m.MessageID()})
	}

	s.log.Info().
		Str("topic", st.TopicID).
		Int("folded", len(fold)).
		Int("removed", len(removals)).
		Msg("conversation summarized")

	return SummaryResult{
		Ran:      true,
		Summary:  summary,
		Removals: removals,
		Folded:   len(fold),
		Retained: len(kept),
		Step:     domain.StepConversationSummary,
	}, nil
}

// Apply writes a successful result into the state.
func (r SummaryResult) Apply(st *domain.State) {
	st.CurrentStep = r.Step
	if !r.Ran {
		return
	}
	st.Summary = r.Summary
	st.Apply(r.Removals)
	st.LastSummarizedAt = r.Retained
}

func renderForSummary(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case domain.UserMessage:
			lines = append(lines, "User: "+v.Text)
		case domain.AssistantMessage:
			if !v.HasToolCalls() {
				lines = append(lines, "Assistant: "+v.Text)
			}
		}
	}
	return strings.Join(lines, "\n\n")
}
