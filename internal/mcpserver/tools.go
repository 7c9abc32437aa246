package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	snippetLen         = 300
)

// intArg extracts an integer argument, returning def if the key is missing
// or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, def int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// SubmitTurnTool handles the submit_turn tool.
type SubmitTurnTool struct {
	svc Service
	log *logging.Logger
}

func NewSubmitTurnTool(svc Service, log *logging.Logger) *SubmitTurnTool {
	return &SubmitTurnTool{svc: svc, log: log}
}

func (t *SubmitTurnTool) Definition() mcp.Tool {
	return mcp.NewTool("submit_turn",
		mcp.WithDescription("Ask a question in a topic's conversation and get the answer. Earlier turns of the topic are remembered."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic id, usually a competition id such as titanic"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The question or message"),
		),
		mcp.WithString("session_handle",
			mcp.Description("Resume under a specific session handle instead of the topic's current one"),
		),
	)
}

func (t *SubmitTurnTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.svc.SubmitTurn(ctx, agent.TurnRequest{
		TopicID:       req.GetString("topic", ""),
		SessionHandle: req.GetString("session_handle", ""),
		Text:          req.GetString("text", ""),
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("submit_turn failed")
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", err)), nil
	}
	return mcp.NewToolResultText(res.Answer), nil
}

// ResetTopicTool handles the reset_topic tool.
type ResetTopicTool struct {
	svc Service
	log *logging.Logger
}

func NewResetTopicTool(svc Service, log *logging.Logger) *ResetTopicTool {
	return &ResetTopicTool{svc: svc, log: log}
}

func (t *ResetTopicTool) Definition() mcp.Tool {
	return mcp.NewTool("reset_topic",
		mcp.WithDescription("Forget a topic's conversation and start a new session for it."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic id")),
	)
}

func (t *ResetTopicTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	handle, err := t.svc.ResetTopic(ctx, topic)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", err)), nil
	}
	t.log.Info().Str("topic", topic).Str("handle", handle).Msg("topic reset over mcp")
	return mcp.NewToolResultText(fmt.Sprintf("Topic %s reset. New session: %s", topic, handle)), nil
}

// SnapshotTool handles the get_snapshot tool.
type SnapshotTool struct {
	svc Service
}

func NewSnapshotTool(svc Service) *SnapshotTool {
	return &SnapshotTool{svc: svc}
}

func (t *SnapshotTool) Definition() mcp.Tool {
	return mcp.NewTool("get_snapshot",
		mcp.WithDescription("Return the stored conversation snapshot of a topic as JSON."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic id")),
	)
}

func (t *SnapshotTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if topic == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	rec, err := t.svc.ExportSnapshot(ctx, topic)
	if errors.Is(err, session.ErrNotFound) {
		return mcp.NewToolResultText(fmt.Sprintf("No snapshot stored for topic %s.", topic)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading snapshot: %v", err)), nil
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding snapshot: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ListTopicsTool handles the list_topics tool.
type ListTopicsTool struct {
	svc Service
}

func NewListTopicsTool(svc Service) *ListTopicsTool {
	return &ListTopicsTool{svc: svc}
}

func (t *ListTopicsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_topics",
		mcp.WithDescription("List topics that have a stored conversation."),
	)
}

func (t *ListTopicsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topics, err := t.svc.ListTopics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing topics: %v", err)), nil
	}
	if len(topics) == 0 {
		return mcp.NewToolResultText("No topics yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d topics:\n", len(topics))
	for _, info := range topics {
		fmt.Fprintf(&b, "- %s", info.TopicKey)
		if info.Title != "" {
			fmt.Fprintf(&b, " (%s)", info.Title)
		}
		fmt.Fprintf(&b, ": %d messages, session %s, saved %s",
			info.Messages, info.SessionHandle, info.SavedAt.Format("2006-01-02 15:04"))
		if info.HasSummary {
			b.WriteString(", summarized")
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// SearchTool handles the search_transcripts tool.
type SearchTool struct {
	svc Service
}

func NewSearchTool(svc Service) *SearchTool {
	return &SearchTool{svc: svc}
}

func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("search_transcripts",
		mcp.WithDescription("Full-text search over every archived message, including ones already summarized away."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithString("topic", mcp.Description("Only search this topic")),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 10, max: 50)")),
	)
}

func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := intArg(req, "limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	results, err := t.svc.Search(ctx, query, req.GetString("topic", ""), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No messages found matching your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d messages:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s / %s (%s, %s)\n    %s\n\n",
			i+1, r.TopicID, r.SessionHandle, r.Role, r.CreatedAt.Format("2006-01-02 15:04"),
			truncate(r.Content, snippetLen))
	}
	return mcp.NewToolResultText(b.String()), nil
}
