package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/logging"
)

// providerCooldown is how long a provider that failed with a retryable
// error is tried last.
const providerCooldown = 30 * time.Second

// FailoverClient is an llm.Client that walks a chain of providers: the
// configured one, then llm.fallbacks in order. The engine sees a single
// client and never learns which provider answered.
type FailoverClient struct {
	registry *llm.Registry
	chain    []string
	log      *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	benched map[string]time.Time // provider → end of cooldown
}

var _ llm.Client = (*FailoverClient)(nil)

// NewFailoverClient builds the chain primary, fallbacks...
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry: registry,
		chain:    append([]string{primary}, fallbacks...),
		log:      log.Sub("failover"),
		now:      time.Now,
		benched:  make(map[string]time.Time),
	}
}

// Name is the primary provider.
func (f *FailoverClient) Name() string { return f.chain[0] }

func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return attempt(ctx, f, func(c llm.Client) (*llm.CompletionResponse, error) {
		return c.Complete(ctx, req)
	})
}

// Stream fails over only on errors returned before the first event; a
// stream that breaks midway ends with an error event as usual.
func (f *FailoverClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	return attempt(ctx, f, func(c llm.Client) (<-chan llm.StreamEvent, error) {
		return c.Stream(ctx, req)
	})
}

func attempt[T any](ctx context.Context, f *FailoverClient, call func(llm.Client) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for _, name := range f.order() {
		client, err := f.registry.Get(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("provider not registered")
			if lastErr == nil {
				lastErr = err
			}
			continue
		}

		out, err := call(client)
		if err == nil {
			f.release(name)
			return out, nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return zero, err
		}

		lastErr = err
		f.bench(name)
		f.log.Warn().Str("provider", name).Err(err).Msg("provider failed, trying next")
	}
	return zero, lastErr
}

// order is the chain with providers still cooling down moved to the end.
func (f *FailoverClient) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	ready := make([]string, 0, len(f.chain))
	var cooling []string
	for _, name := range f.chain {
		if until, ok := f.benched[name]; ok && now.Before(until) {
			cooling = append(cooling, name)
			continue
		}
		ready = append(ready, name)
	}
	return append(ready, cooling...)
}

func (f *FailoverClient) bench(name string) {
	f.mu.Lock()
	f.benched[name] = f.now().Add(providerCooldown)
	f.mu.Unlock()
}

func (f *FailoverClient) release(name string) {
	f.mu.Lock()
	delete(f.benched, name)
	f.mu.Unlock()
}

// isRetryable reports whether another provider might succeed where this
// one failed: auth and quota problems, overload and server errors.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) && pe.Code != 0 {
		return pe.Code == 401 || pe.Code == 403 || pe.Code == 429 || pe.Code >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"overloaded", "rate limit", "capacity", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
