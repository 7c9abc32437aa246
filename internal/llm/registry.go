package llm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrUnknownProvider is returned by Get for a name nothing was registered
// under.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Registry maps provider names to clients. Names are exact: the failover
// chain relies on a missing provider being reported, not substituted.
type Registry struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:     log.Sub("llm.registry"),
		clients: make(map[string]Client),
	}
}

// Register stores client under name, replacing any earlier one.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
	r.log.Debug().Str("provider", name).Msg("llm provider registered")
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

// NewClient builds a provider client by name. openai and anthropic require
// an API key; ollama does not.
func NewClient(provider, model, apiKey, endpoint string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient("openai", endpoint, apiKey, model), nil
	case "anthropic", "claude":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewClaudeAPIClient(endpoint, apiKey, model), nil
	case "ollama":
		return NewOllamaAPIClient(endpoint, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// NewRegistryFromConfig registers the configured provider under its own
// name and each fallback under LLMFallback.Name. Providers that cannot be
// built are logged and left out, so the failover chain skips them.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	if c, err := NewClient(cfg.Provider, cfg.Model, cfg.APIKey, cfg.Endpoint); err != nil {
		reg.log.Warn().Err(err).Str("provider", cfg.Provider).Msg("primary LLM provider unavailable")
	} else {
		reg.Register(cfg.Provider, c)
	}

	for _, fb := range cfg.Fallbacks {
		name := fb.Name()
		if _, err := reg.Get(name); err == nil {
			continue
		}
		c, err := NewClient(fb.Provider, fb.Model, fb.APIKey, fb.Endpoint)
		if err != nil {
			reg.log.Warn().Err(err).Str("provider", name).Msg("fallback LLM provider unavailable")
			continue
		}
		reg.Register(name, c)
	}
	return reg
}
