package config

// Config is the root configuration for Kaggler.
type Config struct {
	LLM           LLMConfig           `yaml:"llm,omitempty"`
	Tools         ToolsConfig         `yaml:"tools,omitempty"`
	Topics        TopicsConfig        `yaml:"topics,omitempty"`
	Storage       StorageConfig       `yaml:"storage,omitempty"`
	Session       SessionConfig       `yaml:"session,omitempty"`
	Orchestration OrchestrationConfig `yaml:"orchestration,omitempty"`
	Gateway       GatewayConfig       `yaml:"gateway,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Hooks         HooksConfig         `yaml:"hooks,omitempty"`
}

// LLMConfig selects the generative provider.
type LLMConfig struct {
	Provider           string        `yaml:"provider,omitempty"` // "openai" | "anthropic" | "ollama"
	Model              string        `yaml:"model,omitempty"`
	APIKey             string        `yaml:"apiKey,omitempty"`
	Endpoint           string        `yaml:"endpoint,omitempty"` // custom base URL (Ollama, proxies)
	Temperature        float64       `yaml:"temperature,omitempty"`
	SummaryTemperature float64       `yaml:"summaryTemperature,omitempty"`
	EvalTemperature    float64       `yaml:"evalTemperature,omitempty"`
	MaxTokens          int           `yaml:"maxTokens,omitempty"`
	Fallbacks          []LLMFallback `yaml:"fallbacks,omitempty"`
}

// LLMFallback is a provider tried when the primary fails with a retryable
// error.
type LLMFallback struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Name is the registry name of the fallback: the provider, qualified by the
// model when one is set.
func (f LLMFallback) Name() string {
	if f.Model == "" {
		return f.Provider
	}
	return f.Provider + "/" + f.Model
}

// ToolsConfig configures the retrieval tools.
type ToolsConfig struct {
	RAG       RAGConfig       `yaml:"rag,omitempty"`
	WebSearch WebSearchConfig `yaml:"webSearch,omitempty"`
}

// RAGConfig configures the semantic search backend.
type RAGConfig struct {
	Enabled        *bool  `yaml:"enabled,omitempty"` // defaults to true
	Endpoint       string `yaml:"endpoint,omitempty"`
	K              int    `yaml:"k,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// IsEnabled reports whether the RAG tool should be registered.
func (r RAGConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// WebSearchConfig configures the fallback web search tool.
type WebSearchConfig struct {
	Provider       string `yaml:"provider,omitempty"` // "brave" | "google" | "none"
	APIKey         string `yaml:"apiKey,omitempty"`
	SearchEngineID string `yaml:"searchEngineId,omitempty"` // google only
	Endpoint       string `yaml:"endpoint,omitempty"`       // brave only, for proxies
	MaxResults     int    `yaml:"maxResults,omitempty"`
}

// TopicsConfig configures where topic metadata comes from.
type TopicsConfig struct {
	Endpoint string                `yaml:"endpoint,omitempty"` // backend base URL
	Static   map[string]TopicEntry `yaml:"static,omitempty"`
}

// TopicEntry is statically configured topic metadata.
type TopicEntry struct {
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
	Evaluation  string `yaml:"evaluation,omitempty"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	Driver      string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path        string `yaml:"path,omitempty"`
	Checkpoints string `yaml:"checkpoints,omitempty"` // "memory" | "sqlite"
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	User string `yaml:"user,omitempty"` // identity mixed into session handles
}

// OrchestrationConfig bounds the turn state machine.
type OrchestrationConfig struct {
	TokenBudget           int    `yaml:"tokenBudget,omitempty"`
	SummaryThreshold      int    `yaml:"summaryThreshold,omitempty"`
	RetainMessages        int    `yaml:"retainMessages,omitempty"`
	MaxRetries            int    `yaml:"maxRetries,omitempty"`
	EvaluatorContentLimit int    `yaml:"evaluatorContentLimit,omitempty"`
	MaxToolRounds         int    `yaml:"maxToolRounds,omitempty"`
	MaxConcurrentTurns    int    `yaml:"maxConcurrentTurns,omitempty"`
	PrimaryTool           string `yaml:"primaryTool,omitempty"`
	FallbackTool          string `yaml:"fallbackTool,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	TLS            GatewayTLS `yaml:"tls,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines shell commands run on turn and topic events.
type HooksConfig struct {
	TurnStart     []HookEntry `yaml:"turnStart,omitempty"`
	TurnEnd       []HookEntry `yaml:"turnEnd,omitempty"`
	SnapshotSaved []HookEntry `yaml:"snapshotSaved,omitempty"`
	TopicReset    []HookEntry `yaml:"topicReset,omitempty"`
	GatewayStart  []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop   []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
