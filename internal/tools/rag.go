package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/logging"
)

const (
	defaultRAGK       = 4
	defaultRAGTimeout = 30 * time.Second

	noDocumentsFound = "No relevant documents found."
)

// RAG searches competition discussions through the backend's semantic
// search endpoint.
type RAG struct {
	endpoint string
	k        int
	client   *http.Client
	log      *logging.Logger
}

// NewRAG creates a RAG tool against a backend base URL.
func NewRAG(endpoint string, k int, timeout time.Duration, log *logging.Logger) *RAG {
	if k <= 0 {
		k = defaultRAGK
	}
	if timeout <= 0 {
		timeout = defaultRAGTimeout
	}
	return &RAG{
		endpoint: strings.TrimRight(endpoint, "/"),
		k:        k,
		client:   &http.Client{Timeout: timeout},
		log:      log.Sub("tools.rag"),
	}
}

func (r *RAG) Name() string       { return RAGToolName }
func (r *RAG) AcceptsTopic() bool { return true }
func (r *RAG) Description() string {
	return "Search competition discussions, notebooks and write-ups using semantic similarity. " +
		"Use this first for questions about the current competition."
}
func (r *RAG) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query for finding relevant content"},
			"competition_id": {"type": "string", "description": "Target competition to filter results"}
		},
		"required": ["query"]
	}`
}

type ragRequest struct {
	Query         string  `json:"query"`
	CompetitionID *string `json:"competition_id"`
	K             int     `json:"k"`
}

type ragResponse struct {
	Results []ragResult `json:"results"`
}

type ragResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (r *RAG) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	payload := ragRequest{Query: query, K: IntArg(args, "k", r.k)}
	if id := StringArg(args, TopicArg); id != "" {
		payload.CompetitionID = &id
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/rag-search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.log.Debug().Str("query", query).Str("competition", StringArg(args, TopicArg)).Msg("rag search")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rag search: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rag search failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result ragResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	r.log.Debug().Int("results", len(result.Results)).Msg("rag search complete")

	if len(result.Results) == 0 {
		return noDocumentsFound, nil
	}

	passages := make([]string, 0, len(result.Results))
	for i, doc := range result.Results {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Document %d", i+1)
		if title := metaString(doc.Metadata, "title"); title != "" {
			fmt.Fprintf(&sb, ": %s", title)
		}
		fmt.Fprintf(&sb, "\n%s\n", Truncate(CleanText(doc.Content), maxPassageChars))
		url := metaString(doc.Metadata, "url")
		if url == "" {
			url = "No URL"
		}
		fmt.Fprintf(&sb, "Source URL: %s", url)
		passages = append(passages, sb.String())
	}
	return strings.Join(passages, "\n\n"), nil
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}
