// Package topic resolves competition metadata (title, description and
// evaluation criteria) for the system prompt.
package topic

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
)

// ErrUnknownTopic is returned by providers that have no entry for a topic.
var ErrUnknownTopic = errors.New("topic: unknown topic")

// Provider fetches metadata for a topic. Implementations return whatever
// they have alongside any error; callers treat errors as soft.
type Provider interface {
	Fetch(ctx context.Context, id string) (domain.TopicMetadata, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, id string) (domain.TopicMetadata, error)

func (f ProviderFunc) Fetch(ctx context.Context, id string) (domain.TopicMetadata, error) {
	return f(ctx, id)
}

// Static serves metadata from a fixed map.
type Static map[string]domain.TopicMetadata

func (s Static) Fetch(_ context.Context, id string) (domain.TopicMetadata, error) {
	meta, ok := s[id]
	if !ok {
		return domain.TopicMetadata{}, fmt.Errorf("%w: %s", ErrUnknownTopic, id)
	}
	return meta, nil
}

// Chain asks each provider in turn, merging results, and stops as soon as
// the metadata is complete. It only reports an error when every provider
// failed.
type Chain []Provider

func (c Chain) Fetch(ctx context.Context, id string) (domain.TopicMetadata, error) {
	var (
		meta domain.TopicMetadata
		errs []error
	)
	for _, p := range c {
		got, err := p.Fetch(ctx, id)
		if err != nil {
			errs = append(errs, err)
		}
		meta = meta.Merge(got)
		if meta.Complete() {
			return meta, nil
		}
	}
	if len(errs) == len(c) && len(c) > 0 {
		return meta, errors.Join(errs...)
	}
	return meta, nil
}

// FromConfig builds the provider described by the topics config section:
// static entries first, then the backend endpoint. It returns nil when
// neither is configured.
func FromConfig(cfg config.TopicsConfig, log *logging.Logger) Provider {
	var chain Chain
	if len(cfg.Static) > 0 {
		static := make(Static, len(cfg.Static))
		for id, e := range cfg.Static {
			static[id] = domain.TopicMetadata{Title: e.Title, Description: e.Description, Evaluation: e.Evaluation}
		}
		chain = append(chain, static)
	}
	if cfg.Endpoint != "" {
		chain = append(chain, NewHTTPProvider(cfg.Endpoint, log))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	default:
		return chain
	}
}
