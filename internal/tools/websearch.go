package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/kaggler/internal/logging"
)

const (
	defaultMaxResults = 5
	noWebResultsFound = "No relevant web results found."
)

// SearchResult is one hit from a web search backend.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher is a web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// WebSearch is the fallback tool used when the discussion index does not
// answer a question well enough.
type WebSearch struct {
	searcher   Searcher
	maxResults int
	log        *logging.Logger
}

// NewWebSearch wraps a search backend as the web_search_tool.
func NewWebSearch(s Searcher, maxResults int, log *logging.Logger) *WebSearch {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &WebSearch{searcher: s, maxResults: maxResults, log: log.Sub("tools.web")}
}

func (w *WebSearch) Name() string       { return WebSearchToolName }
func (w *WebSearch) AcceptsTopic() bool { return false }
func (w *WebSearch) Description() string {
	return "Search the web for Kaggle competition strategies and techniques when the discussion index is insufficient."
}
func (w *WebSearch) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query for finding relevant content on the web"}
		},
		"required": ["query"]
	}`
}

func (w *WebSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := w.searcher.Search(ctx, enhanceQuery(query), w.maxResults)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	w.log.Debug().Str("query", query).Int("results", len(results)).Msg("web search complete")

	if len(results) == 0 {
		return noWebResultsFound, nil
	}
	return formatResults(results), nil
}

// enhanceQuery biases generic questions towards competition material.
func enhanceQuery(q string) string {
	if strings.Contains(strings.ToLower(q), "kaggle") {
		return q
	}
	return "Kaggle competition " + q
}

func formatResults(results []SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Web Result %d: %s\n", i+1, CleanText(r.Title))
		if snippet := CleanText(r.Snippet); snippet != "" {
			fmt.Fprintf(&sb, "%s\n", Truncate(snippet, maxPassageChars))
		}
		fmt.Fprintf(&sb, "Source: %s", r.URL)
	}
	return sb.String()
}
