package topic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
)

// HTTPProvider fetches competition metadata from the backend API at
// GET {endpoint}/api/competition/{id}. Concurrent fetches for the same
// topic share one request.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	log      *logging.Logger
	group    singleflight.Group
}

// NewHTTPProvider creates a provider against a backend base URL.
func NewHTTPProvider(endpoint string, log *logging.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log.Sub("topic"),
	}
}

type competitionEnvelope struct {
	Competition *competitionRecord `json:"competition"`
	competitionRecord
}

type competitionRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Evaluation  string `json:"evaluation"`
}

// Fetch returns empty metadata together with the error on any failure.
// Concurrent fetches of one topic share a request that outlives any single
// caller; each caller still stops waiting when its own ctx ends.
func (p *HTTPProvider) Fetch(ctx context.Context, id string) (domain.TopicMetadata, error) {
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(id, func() (any, error) {
		return p.fetch(detached, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	if res.Err != nil {
		p.log.Warn().Err(res.Err).Str("topic", id).Msg("failed to fetch topic metadata")
		return domain.TopicMetadata{}, res.Err
	}
	if res.Shared {
		p.log.Debug().Str("topic", id).Msg("shared in-flight metadata fetch")
	}
	return res.Val.(domain.TopicMetadata), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, id string) (domain.TopicMetadata, error) {
	u := p.endpoint + "/api/competition/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.TopicMetadata{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.TopicMetadata{}, fmt.Errorf("fetching competition %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TopicMetadata{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.TopicMetadata{}, fmt.Errorf("%w: %s", ErrUnknownTopic, id)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TopicMetadata{}, fmt.Errorf("fetching competition %s: status %d", id, resp.StatusCode)
	}

	var env competitionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.TopicMetadata{}, fmt.Errorf("parsing competition %s: %w", id, err)
	}
	rec := env.competitionRecord
	if env.Competition != nil {
		rec = *env.Competition
	}
	return domain.TopicMetadata{
		Title:       strings.TrimSpace(rec.Title),
		Description: strings.TrimSpace(rec.Description),
		Evaluation:  strings.TrimSpace(rec.Evaluation),
	}, nil
}
