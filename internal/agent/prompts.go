package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	TopicID  string
	Topic    domain.TopicMetadata
	Summary  string
	Tools    []llm.ToolDefinition
	Extra    []string // standing system messages carried in the history
	Now      time.Time
	Fallback string // name of the web tool, if registered
}

const notAvailable = "Not available"

// BuildSystemPrompt constructs the system prompt for the reasoning step.
// When a rolling summary exists the prompt switches to its continuation
// variant, which places the summary ahead of the guidance.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	b.WriteString("You are Kaggler, a competition strategist who helps users climb Kaggle leaderboards. ")
	b.WriteString("Answer like an experienced teammate: direct, practical and specific to the competition at hand.\n\n")

	if !cfg.Now.IsZero() {
		fmt.Fprintf(&b, "Current date: %s\n\n", cfg.Now.Format(time.DateOnly))
	}

	b.WriteString("## Current Competition\n")
	fmt.Fprintf(&b, "- ID: %s\n", orNA(cfg.TopicID))
	fmt.Fprintf(&b, "- Title: %s\n", orNA(cfg.Topic.Title))
	fmt.Fprintf(&b, "- Description: %s\n", orNA(cfg.Topic.Description))
	fmt.Fprintf(&b, "- Evaluation: %s\n\n", orNA(cfg.Topic.Evaluation))

	if cfg.Summary != "" {
		b.WriteString("## Previous Conversation Context\n")
		b.WriteString(strings.TrimSpace(cfg.Summary))
		b.WriteString("\n\n")
		b.WriteString("Build on what has already been discussed. Do not repeat earlier advice unless asked, ")
		b.WriteString("and move the conversation towards new or more advanced angles.\n\n")
	}

	if len(cfg.Tools) > 0 {
		b.WriteString("## Available Tools\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- `%s`: %s\n", t.Name, t.Description)
		}
		b.WriteString("\nSearch the competition discussions when proven, competition-specific tactics would ")
		b.WriteString("strengthen the answer. Skip the search for follow-ups on topics already covered, ")
		b.WriteString("clarifications and small talk.")
		if cfg.Fallback != "" {
			fmt.Fprintf(&b, " Use `%s` only for recent techniques the discussions are unlikely to cover.", cfg.Fallback)
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Guidelines\n")
	b.WriteString("- Address the question directly before expanding on it.\n")
	b.WriteString("- Prefer actionable steps with a clear expected effect on the score.\n")
	b.WriteString("- When you use retrieved material, mention where it came from and include source URLs.\n")
	b.WriteString("- Adapt immediately to feedback about the style or depth of your answers.\n")

	for _, extra := range cfg.Extra {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

// topicContext renders the metadata for the evaluator.
func topicContext(id string, t domain.TopicMetadata) string {
	var parts []string
	if id != "" {
		parts = append(parts, "ID: "+id)
	}
	if t.Title != "" {
		parts = append(parts, "Title: "+t.Title)
	}
	if t.Description != "" {
		parts = append(parts, "Description: "+t.Description)
	}
	if t.Evaluation != "" {
		parts = append(parts, "Evaluation: "+t.Evaluation)
	}
	if len(parts) == 0 {
		return notAvailable
	}
	return strings.Join(parts, "\n")
}

const evaluationRubric = `Judge whether the retrieved content gives the user a competitive advantage for the ORIGINAL QUESTION.

Evaluate against what the user actually asked. For general questions, check that the content answers that question. For Kaggle and machine learning questions, require specific, actionable techniques used by strong competitors; generic ML advice without an edge is INSUFFICIENT.

Scoring:
- relevance_score (1-10): how well the content serves this specific question.
- completeness_score (1-10): whether there is enough depth to implement it.
- quality: EXCELLENT (insights from proven winners), GOOD (specific competitive techniques), PARTIAL (some useful elements), INSUFFICIENT (generic), IRRELEVANT (off-topic).
- next_action: "accept" when the content is good enough, "retry" when a refined search would help, "escalate" when only the web is likely to have it.
- suggested_query: a better search query when next_action is not "accept".`

func buildEvaluationPrompt(in EvaluationInput) string {
	var b strings.Builder
	b.WriteString("You evaluate retrieval results for a Kaggle strategy assistant.\n\n")
	fmt.Fprintf(&b, "ORIGINAL QUESTION: %s\n\n", in.OriginalQuestion)
	fmt.Fprintf(&b, "COMPETITION CONTEXT:\n%s\n\n", in.TopicContext)
	fmt.Fprintf(&b, "RETRIEVED CONTENT:\n%s\n\n", in.RetrievedContent)
	b.WriteString(evaluationRubric)
	return b.String()
}

func buildSummaryPrompt(prior string, lines string) string {
	var b strings.Builder
	if prior != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n\n", prior)
		fmt.Fprintf(&b, "New messages to add to the summary:\n%s\n\n", lines)
		b.WriteString("Update the summary with these messages.")
	} else {
		fmt.Fprintf(&b, "Summarize this Kaggle competition conversation:\n%s\n\n", lines)
		b.WriteString("Write a summary of the conversation.")
	}
	b.WriteString(" Preserve the user's identity and background, their competition goals, ")
	b.WriteString("the technical strategies discussed and the decisions reached. Be concise.")
	return b.String()
}
