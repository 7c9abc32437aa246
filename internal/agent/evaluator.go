package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/llm"
)

// ErrMalformedEvaluation is returned when the model's judgment cannot be
// parsed or lacks required fields.
var ErrMalformedEvaluation = errors.New("malformed evaluation")

// EvaluationInput is what the evaluator sees of one tool result.
type EvaluationInput struct {
	OriginalQuestion string
	RetrievedContent string
	TopicContext     string
}

// Evaluator scores a tool result against the question that prompted it.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvaluationInput) (domain.Evaluation, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, in EvaluationInput) (domain.Evaluation, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in EvaluationInput) (domain.Evaluation, error) {
	return f(ctx, in)
}

const evaluationSchema = `{
	"type": "object",
	"properties": {
		"quality": {"type": "string", "enum": ["EXCELLENT", "GOOD", "PARTIAL", "INSUFFICIENT", "IRRELEVANT"]},
		"relevance_score": {"type": "integer", "minimum": 1, "maximum": 10},
		"completeness_score": {"type": "integer", "minimum": 1, "maximum": 10},
		"next_action": {"type": "string", "enum": ["accept", "retry", "escalate"]},
		"reasoning": {"type": "string"},
		"suggested_query": {"type": "string"}
	},
	"required": ["quality", "relevance_score", "completeness_score", "next_action", "reasoning", "suggested_query"],
	"additionalProperties": false
}`

// LLMEvaluator delegates evaluation to the generative capability with a
// structured-output contract.
type LLMEvaluator struct {
	client       llm.Client
	temperature  float64
	maxTokens    int
	contentLimit int
}

// NewLLMEvaluator creates an evaluator. contentLimit caps the retrieved
// content passed to the model, in bytes.
func NewLLMEvaluator(client llm.Client, temperature float64, contentLimit int) *LLMEvaluator {
	return &LLMEvaluator{
		client:       client,
		temperature:  temperature,
		maxTokens:    512,
		contentLimit: contentLimit,
	}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, in EvaluationInput) (domain.Evaluation, error) {
	in.RetrievedContent = capContent(in.RetrievedContent, e.contentLimit)

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildEvaluationPrompt(in)}},
		MaxTokens:   e.maxTokens,
		Temperature: llm.Float(e.temperature),
		ResponseSchema: &llm.ResponseSchema{
			Name:        "evaluation_result",
			Description: "Judgment of how well retrieved content answers the question",
			Schema:      evaluationSchema,
		},
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluation request: %w", err)
	}
	return ParseEvaluation(resp.Content)
}

type rawEvaluation struct {
	Quality           *string  `json:"quality"`
	RelevanceScore    *float64 `json:"relevance_score"`
	CompletenessScore *float64 `json:"completeness_score"`
	NextAction        string   `json:"next_action"`
	Reasoning         string   `json:"reasoning"`
	SuggestedQuery    string   `json:"suggested_query"`
}

// ParseEvaluation decodes a structured judgment. Code fences around the JSON
// are tolerated; a missing quality or score is an error. Scores are rounded
// and clamped to 1..10.
func ParseEvaluation(content string) (domain.Evaluation, error) {
	content = stripCodeFence(content)
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedEvaluation, err)
	}
	if raw.Quality == nil || raw.RelevanceScore == nil || raw.CompletenessScore == nil {
		return domain.Evaluation{}, fmt.Errorf("%w: missing quality or scores", ErrMalformedEvaluation)
	}
	ev := domain.Evaluation{
		Quality:           domain.Quality(*raw.Quality),
		RelevanceScore:    int(math.Round(*raw.RelevanceScore)),
		CompletenessScore: int(math.Round(*raw.CompletenessScore)),
		NextAction:        strings.ToLower(strings.TrimSpace(raw.NextAction)),
		Reasoning:         strings.TrimSpace(raw.Reasoning),
		SuggestedQuery:    strings.TrimSpace(raw.SuggestedQuery),
	}
	return ev.Clamp(), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// capContent truncates s to limit bytes on a rune boundary. A limit of zero
// or less disables the cap.
func capContent(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
