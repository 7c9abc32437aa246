// Package tools implements the retrieval capabilities the reasoning step can
// call: semantic search over topic discussions (rag_tool) and web search
// (web_search_tool) backed by Brave or Google Programmable Search.
package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/logging"
)

// Well-known tool names and the argument used to pass the topic identifier.
const (
	RAGToolName       = "rag_tool"
	WebSearchToolName = "web_search_tool"
	TopicArg          = "competition_id"
)

// Tool is a capability the engine can invoke by name.
type Tool interface {
	// Name returns the identifier the model uses to call the tool.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// Schema returns the JSON Schema of the tool's arguments.
	Schema() string

	// AcceptsTopic reports whether the tool takes a competition_id argument
	// that the engine may fill in from the conversation's topic.
	AcceptsTopic() bool

	// Invoke runs the tool and returns text for the model.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the available tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns model-ready tool definitions for every registered
// tool except the named ones, in name order.
func (r *Registry) Definitions(exclude ...string) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, name := range r.Names() {
		if slices.Contains(exclude, name) {
			continue
		}
		t, _ := r.Get(name)
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// FromConfig builds a registry from the tools section of the config. A
// disabled or unconfigured capability is simply not registered.
func FromConfig(ctx context.Context, cfg config.ToolsConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry()

	if cfg.RAG.IsEnabled() && cfg.RAG.Endpoint != "" {
		timeout := time.Duration(cfg.RAG.TimeoutSeconds) * time.Second
		reg.Register(NewRAG(cfg.RAG.Endpoint, cfg.RAG.K, timeout, log))
	}

	var searcher Searcher
	switch cfg.WebSearch.Provider {
	case "brave":
		b := NewBraveSearch(cfg.WebSearch.APIKey)
		if cfg.WebSearch.Endpoint != "" {
			b.baseURL = cfg.WebSearch.Endpoint
		}
		searcher = b
	case "google":
		g, err := NewGoogleSearch(ctx, cfg.WebSearch.APIKey, cfg.WebSearch.SearchEngineID, cfg.WebSearch.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("google search: %w", err)
		}
		searcher = g
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown web search provider %q", cfg.WebSearch.Provider)
	}
	if searcher != nil {
		reg.Register(NewWebSearch(searcher, cfg.WebSearch.MaxResults, log))
	}

	return reg, nil
}

// StringArg returns args[key] as a string. Non-string values are formatted
// with fmt.Sprint; a missing key yields "".
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// IntArg returns args[key] as an int, or def when absent or not numeric.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
