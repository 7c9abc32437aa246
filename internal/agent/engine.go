// Package agent runs conversation turns: the orchestration state machine
// (setup, reason, dispatch_tools, evaluate, retry, summarize), the retrieval
// evaluator and summarizer it relies on, and the Service that ties turns to
// sessions and snapshots.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/tools"
	"github.com/soyeahso/kaggler/internal/topic"
)

// ErrEmptyTurn is returned when a turn is submitted without text.
var ErrEmptyTurn = errors.New("agent: empty turn")

const (
	defaultFallbackQuery = "ensemble techniques RMSLE"
	retryQueryPrefix     = "advanced techniques "
	noQuestionQuery      = "competition strategies"

	retryNote      = "Let me search with a more targeted approach: "
	escalationNote = "Let me search the web for additional insights: "

	emptyAnswerText = "I couldn't come up with an answer to that. Could you rephrase the question?"
	llmFailureText  = "Sorry, I couldn't reach the language model to finish this answer (%v). Your message is saved, so please try again in a moment."
	fallbackSpent   = "Web search was already used for this question. Answer from the results gathered so far."
)

// Score thresholds applied to an evaluation.
const (
	acceptRelevance    = 7
	acceptCompleteness = 6
	retryRelevance     = 5
)

// Options tunes the state machine.
type Options struct {
	MaxTokens       int
	Temperature     float64
	PrimaryTool     string
	FallbackTool    string
	FallbackEnabled bool // allow escalation; also requires the fallback tool to be registered
	MaxRetries      int
	MaxToolRounds   int
}

// DefaultOptions returns the standard orchestration limits.
func DefaultOptions() Options {
	return Options{
		MaxTokens:       1024,
		Temperature:     0.3,
		PrimaryTool:     tools.RAGToolName,
		FallbackTool:    tools.WebSearchToolName,
		FallbackEnabled: true,
		MaxRetries:      2,
		MaxToolRounds:   5,
	}
}

// EngineDeps are the capabilities the engine calls out to. Only Client is
// required; a nil Tools registry means no tools are offered, a nil Topics
// provider skips metadata lookup, and a nil Evaluator or Summarizer skips
// that step.
type EngineDeps struct {
	Client     llm.Client
	Tools      *tools.Registry
	Topics     topic.Provider
	Evaluator  Evaluator
	Summarizer *Summarizer
	Trimmer    *Trimmer
}

// Engine is the turn state machine. It is stateless between turns; all
// conversation state travels in domain.State.
type Engine struct {
	client     llm.Client
	tools      *tools.Registry
	topics     topic.Provider
	evaluator  Evaluator
	summarizer *Summarizer
	trimmer    *Trimmer
	opts       Options
	now        func() time.Time
	log        *logging.Logger
}

// NewEngine creates an engine. FallbackEnabled is cleared when the fallback
// tool is not registered.
func NewEngine(deps EngineDeps, opts Options, log *logging.Logger) *Engine {
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	if deps.Trimmer == nil {
		deps.Trimmer = NewTrimmer(ApproxCounter, 0)
	}
	opts.FallbackEnabled = opts.FallbackEnabled && deps.Tools.Has(opts.FallbackTool)
	return &Engine{
		client:     deps.Client,
		tools:      deps.Tools,
		topics:     deps.Topics,
		evaluator:  deps.Evaluator,
		summarizer: deps.Summarizer,
		trimmer:    deps.Trimmer,
		opts:       opts,
		now:        time.Now,
		log:        log.Sub("agent.engine"),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

type node string

const (
	nodeSetup     node = "setup"
	nodeReason    node = "reason"
	nodeDispatch  node = "dispatch_tools"
	nodeEvaluate  node = "evaluate"
	nodeRetry     node = "retry"
	nodeSummarize node = "summarize"
	nodeDone      node = "done"
)

// turn is the working set of one Run call.
type turn struct {
	st           domain.State
	question     string
	rounds       int
	fallbackUsed bool
	sink         func(TurnEvent)
}

func (t *turn) emit(ev TurnEvent) {
	if t.sink != nil {
		t.sink(ev)
	}
}

// Run processes one user message against st and returns the updated state.
// Capability failures never abort the turn; they surface as text in the
// conversation. sink, when non-nil, receives delta, step and tool events as
// the turn progresses and switches the reasoning call to streaming.
func (e *Engine) Run(ctx context.Context, st domain.State, text string, sink func(TurnEvent)) (domain.State, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return st, ErrEmptyTurn
	}

	t := &turn{st: st.Clone(), question: text, sink: sink}
	t.st.RetryCount = 0
	t.st.Append(domain.NewUserMessage(text))

	log := e.log.With("topic", t.st.TopicID)
	log.Debug().Int("history", len(t.st.Messages)).Msg("turn started")

	n := nodeSetup
	for n != nodeDone {
		prev := n
		switch n {
		case nodeSetup:
			n = e.setup(ctx, t)
		case nodeReason:
			n = e.reason(ctx, t)
		case nodeDispatch:
			n = e.dispatch(ctx, t)
		case nodeEvaluate:
			n = e.evaluate(ctx, t)
		case nodeRetry:
			n = e.retry(t)
		case nodeSummarize:
			n = e.summarize(ctx, t)
		default:
			return t.st, fmt.Errorf("unknown node %q", n)
		}
		log.Debug().Str("node", string(prev)).Str("next", string(n)).Str("step", string(t.st.CurrentStep)).Msg("step")
		t.emit(TurnEvent{Type: EventStep, Node: string(prev), Step: t.st.CurrentStep})
	}

	if t.st.CurrentStep != domain.StepSummarizationFailed {
		t.st.CurrentStep = domain.StepDone
	}

	log.Info().
		Int("messages", len(t.st.Messages)).
		Int("retryCount", t.st.RetryCount).
		Int("toolRounds", t.rounds).
		Bool("fallbackUsed", t.fallbackUsed).
		Msg("turn complete")

	return t.st, nil
}

// setup fills in missing topic metadata. Complete metadata is never
// fetched again.
func (e *Engine) setup(ctx context.Context, t *turn) node {
	t.st.CurrentStep = domain.StepSetupComplete
	if t.st.Topic.Complete() || e.topics == nil || t.st.TopicID == "" {
		return nodeReason
	}

	meta, err := e.topics.Fetch(ctx, t.st.TopicID)
	t.st.Topic = t.st.Topic.Merge(meta)
	if err != nil {
		e.log.Warn().Err(err).Str("topic", t.st.TopicID).Msg("topic metadata unavailable, continuing without it")
		t.st.CurrentStep = domain.StepMetadataUnavailable
	}
	return nodeReason
}

// reason asks the model for either an answer or tool calls.
func (e *Engine) reason(ctx context.Context, t *turn) node {
	defs := e.toolDefinitions(t)

	_, extra := toLLMMessages(t.st.Messages)
	cfg := PromptConfig{
		TopicID: t.st.TopicID,
		Topic:   t.st.Topic,
		Summary: t.st.Summary,
		Tools:   defs,
		Extra:   extra,
		Now:     e.now(),
	}
	if e.fallbackAvailable(t) {
		cfg.Fallback = e.opts.FallbackTool
	}
	system := BuildSystemPrompt(cfg)

	history, _ := toLLMMessages(e.trimmer.Trim(system, t.st.Messages))
	req := llm.CompletionRequest{
		System:      system,
		Messages:    history,
		Tools:       defs,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: llm.Float(e.opts.Temperature),
	}

	resp, err := e.complete(ctx, t, req)
	if err != nil {
		e.log.Warn().Err(err).Str("topic", t.st.TopicID).Msg("reasoning call failed")
		t.st.Append(domain.NewAssistantMessage(fmt.Sprintf(llmFailureText, err)))
		t.st.CurrentStep = domain.StepLLMError
		return nodeSummarize
	}

	var calls []domain.ToolCall
	if len(defs) > 0 {
		calls = fromLLMToolCalls(resp.ToolCalls)
	}
	text := strings.TrimSpace(resp.Content)
	if len(calls) == 0 && text == "" {
		text = emptyAnswerText
	}

	am := domain.NewAssistantMessage(text, calls...)
	t.st.Append(am)
	if am.HasToolCalls() {
		return nodeDispatch
	}
	return nodeSummarize
}

func (e *Engine) complete(ctx context.Context, t *turn, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if t.sink == nil {
		return e.client.Complete(ctx, req)
	}

	req.Stream = true
	ch, err := e.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		content strings.Builder
		resp    *llm.CompletionResponse
		failure error
	)
	for ev := range ch {
		switch ev.Type {
		case llm.EventDelta:
			content.WriteString(ev.Content)
			t.emit(TurnEvent{Type: EventDelta, Content: ev.Content})
		case llm.EventDone:
			resp = ev.Response
		case llm.EventError:
			failure = errors.New(ev.Error)
		}
	}
	if failure != nil {
		return nil, failure
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}
	if resp.Content == "" {
		resp.Content = content.String()
	}
	return resp, nil
}

// toolDefinitions lists the tools offered to the model. Nothing is offered
// once the per-turn round cap is reached, so the next answer is final.
func (e *Engine) toolDefinitions(t *turn) []llm.ToolDefinition {
	if e.opts.MaxToolRounds > 0 && t.rounds >= e.opts.MaxToolRounds {
		return nil
	}
	if e.fallbackAvailable(t) {
		return e.tools.Definitions()
	}
	return e.tools.Definitions(e.opts.FallbackTool)
}

func (e *Engine) fallbackAvailable(t *turn) bool {
	return e.opts.FallbackEnabled && !t.fallbackUsed
}

// dispatch runs every tool call of the last assistant message.
func (e *Engine) dispatch(ctx context.Context, t *turn) node {
	am, ok := t.st.Last().(domain.AssistantMessage)
	if !ok || !am.HasToolCalls() {
		return nodeSummarize
	}

	t.rounds++
	for _, call := range am.ToolCalls {
		t.emit(TurnEvent{Type: EventToolStart, Tool: call.Name, ToolCallID: call.ID})
		content := e.invoke(ctx, t, call)
		t.st.Append(domain.NewToolResultMessage(call, content))
		t.st.ToolUsageCount++
		t.emit(TurnEvent{Type: EventToolResult, Tool: call.Name, ToolCallID: call.ID, Content: content})
	}
	t.st.CurrentStep = domain.StepToolsExecuted
	return nodeEvaluate
}

func (e *Engine) invoke(ctx context.Context, t *turn, call domain.ToolCall) string {
	tool, ok := e.tools.Get(call.Name)
	if !ok || (call.Name == e.opts.FallbackTool && !e.opts.FallbackEnabled) {
		e.log.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		return InvalidToolContent(call.Name)
	}
	if call.Name == e.opts.FallbackTool {
		if t.fallbackUsed {
			return fallbackSpent
		}
		t.fallbackUsed = true
	}

	args := domain.CloneArgs(call.Args)
	if tool.AcceptsTopic() && t.st.TopicID != "" {
		if _, set := args[tools.TopicArg]; !set {
			args[tools.TopicArg] = t.st.TopicID
		}
	}

	start := time.Now()
	out, err := tool.Invoke(ctx, args)
	if err != nil {
		e.log.Warn().Err(err).Str("tool", call.Name).Msg("tool failed")
		return fmt.Sprintf("Tool %s failed: %v", call.Name, err)
	}
	e.log.Debug().Str("tool", call.Name).Dur("duration", time.Since(start)).Int("bytes", len(out)).Msg("tool complete")
	return out
}

// InvalidToolContent is the result reported to the model for a tool name
// that is not registered.
func InvalidToolContent(name string) string {
	return fmt.Sprintf("Invalid tool name %q. Please retry and select a tool from the list of available tools.", name)
}

// Decision is the routing outcome of an evaluation.
type Decision string

const (
	DecisionFinalize Decision = "finalize"
	DecisionRetry    Decision = "retry"
)

// Route applies the score thresholds: strong results are accepted, decent
// results get one refined retry, and everything else is answered from what
// was found rather than searched again.
func Route(ev domain.Evaluation, retryCount int) Decision {
	switch {
	case ev.RelevanceScore >= acceptRelevance && ev.CompletenessScore >= acceptCompleteness:
		return DecisionFinalize
	case ev.RelevanceScore >= retryRelevance && retryCount < 1:
		return DecisionRetry
	default:
		return DecisionFinalize
	}
}

// evaluate judges the most recent tool result and picks between answering
// and retrying. Only the last result is judged when several tools ran.
func (e *Engine) evaluate(ctx context.Context, t *turn) node {
	tr, ok := t.st.LastToolResult()
	if !ok {
		t.st.CurrentStep = domain.StepEvaluationError
		return nodeReason
	}

	if t.st.RetryCount >= e.opts.MaxRetries {
		t.st.CurrentStep = domain.StepGenerateFinalAnswer
		return nodeReason
	}
	if t.fallbackUsed || tr.ToolName == e.opts.FallbackTool {
		t.st.CurrentStep = domain.StepGenerateFinalAnswer
		return nodeReason
	}
	if e.evaluator == nil {
		t.st.CurrentStep = domain.StepEvaluationError
		return nodeReason
	}

	question, ok := t.st.QuestionFor(tr.ToolCallID)
	if !ok || strings.TrimSpace(question) == "" {
		t.st.CurrentStep = domain.StepEvaluationError
		return nodeReason
	}

	ev, err := e.evaluator.Evaluate(ctx, EvaluationInput{
		OriginalQuestion: question,
		RetrievedContent: tr.Content,
		TopicContext:     topicContext(t.st.TopicID, t.st.Topic),
	})
	if err != nil {
		e.log.Warn().Err(err).Str("topic", t.st.TopicID).Msg("evaluation failed, answering with what we have")
		t.st.CurrentStep = domain.StepEvaluationError
		return nodeReason
	}
	t.st.LastEvaluation = &ev

	e.log.Debug().
		Str("quality", string(ev.Quality)).
		Int("relevance", ev.RelevanceScore).
		Int("completeness", ev.CompletenessScore).
		Int("retryCount", t.st.RetryCount).
		Msg("tool result evaluated")

	if Route(ev, t.st.RetryCount) == DecisionRetry {
		t.st.CurrentStep = domain.StepRetrySearch
		return nodeRetry
	}
	t.st.CurrentStep = domain.StepGenerateFinalAnswer
	return nodeReason
}

// retry synthesizes the next tool call: a web search once the retry budget
// is spent, otherwise a refined query against the primary tool.
func (e *Engine) retry(t *turn) node {
	var (
		call domain.ToolCall
		note string
	)
	if t.st.RetryCount >= e.opts.MaxRetries && e.fallbackAvailable(t) {
		query := t.question
		if query == "" {
			query = defaultFallbackQuery
		}
		call = domain.ToolCall{
			ID:   fmt.Sprintf("web_search_%d", e.now().Unix()),
			Name: e.opts.FallbackTool,
			Args: map[string]any{"query": query},
		}
		note = escalationNote + query
		t.st.CurrentStep = domain.StepWebSearchInitiated
	} else {
		query := noQuestionQuery
		switch {
		case t.st.LastEvaluation != nil && t.st.LastEvaluation.SuggestedQuery != "":
			query = t.st.LastEvaluation.SuggestedQuery
		case t.question != "":
			query = retryQueryPrefix + t.question
		}
		args := map[string]any{"query": query}
		if t.st.TopicID != "" {
			args[tools.TopicArg] = t.st.TopicID
		}
		call = domain.ToolCall{ID: domain.NewID(), Name: e.opts.PrimaryTool, Args: args}
		note = retryNote + query
		t.st.CurrentStep = domain.StepRetryInitiated
	}

	t.st.RetryCount++
	t.st.Append(domain.NewAssistantMessage(note, call))
	e.log.Info().
		Str("topic", t.st.TopicID).
		Str("tool", call.Name).
		Int("retryCount", t.st.RetryCount).
		Msg("retrying search")
	return nodeDispatch
}

// summarize compacts the history when it has grown past the threshold.
func (e *Engine) summarize(ctx context.Context, t *turn) node {
	if e.summarizer == nil {
		return nodeDone
	}
	res, err := e.summarizer.Summarize(ctx, t.st)
	if err != nil {
		e.log.Warn().Err(err).Str("topic", t.st.TopicID).Msg("summarization failed, keeping full history")
		t.st.CurrentStep = domain.StepSummarizationFailed
		return nodeDone
	}
	res.Apply(&t.st)
	return nodeDone
}
