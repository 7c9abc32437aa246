package tools

import (
	"context"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Custom Search returns at most 10 results per request.
const googleMaxNum = 10

// GoogleSearch queries a Google Programmable Search Engine.
type GoogleSearch struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSearch creates a Google search backend. endpoint overrides the
// API base URL and is normally empty.
func NewGoogleSearch(ctx context.Context, apiKey, cx, endpoint string) (*GoogleSearch, error) {
	if cx == "" {
		return nil, fmt.Errorf("search engine id is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating custom search service: %w", err)
	}
	return &GoogleSearch{svc: svc, cx: cx}, nil
}

func (g *GoogleSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	limit = min(max(limit, 1), googleMaxNum)

	res, err := g.svc.Cse.List().Q(query).Cx(g.cx).Num(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("custom search: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Items))
	for _, item := range res.Items {
		snippet := item.Snippet
		if item.HtmlSnippet != "" {
			snippet = item.HtmlSnippet
		}
		out = append(out, SearchResult{Title: item.Title, URL: item.Link, Snippet: snippet})
	}
	return out, nil
}
