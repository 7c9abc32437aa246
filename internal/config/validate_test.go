package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig is Defaults plus the settings Defaults cannot guess.
func validConfig() Config {
	cfg := Defaults()
	cfg.LLM.APIKey = "sk-test"
	cfg.Tools.RAG.Endpoint = "http://localhost:3000"
	return cfg
}

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_DefaultsNeedKeyAndEndpoint(t *testing.T) {
	cfg := Defaults()
	paths := issuePaths(Validate(&cfg))
	assert.Equal(t, []string{"llm.apiKey", "tools.rag.endpoint"}, paths)
}

func TestValidate_OllamaNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_RAGDisabledNeedsNoEndpoint(t *testing.T) {
	cfg := validConfig()
	off := false
	cfg.Tools.RAG.Enabled = &off
	cfg.Tools.RAG.Endpoint = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()

	cfg.Gateway.Port = -1
	issues := Validate(&cfg)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "gateway.port")

	cfg.Gateway.Port = 70000
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
}

func TestValidate_ValidPort(t *testing.T) {
	for _, port := range []int{0, 8080, 65535} {
		cfg := validConfig()
		cfg.Gateway.Port = port
		assert.Empty(t, Validate(&cfg), "port %d", port)
	}
}

func TestValidate_Enums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"llm provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"web search provider", func(c *Config) { c.Tools.WebSearch.Provider = "bing" }, "tools.webSearch.provider"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"checkpoints", func(c *Config) { c.Storage.Checkpoints = "redis" }, "storage.checkpoints"},
		{"bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "fancy" }, "logging.consoleStyle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Contains(t, issuePaths(Validate(&cfg)), tt.path)
		})
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "level %s", level)
	}
}

func TestValidate_WebSearchCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Tools.WebSearch.Provider = "google"
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "tools.webSearch.apiKey")
	assert.Contains(t, paths, "tools.webSearch.searchEngineId")

	cfg.Tools.WebSearch.APIKey = "k"
	cfg.Tools.WebSearch.SearchEngineID = "cx"
	assert.Empty(t, Validate(&cfg))

	cfg.Tools.WebSearch.Provider = "brave"
	cfg.Tools.WebSearch.SearchEngineID = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Temperatures(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Temperature = 3
	cfg.LLM.EvalTemperature = -1
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "llm.temperature")
	assert.Contains(t, paths, "llm.evalTemperature")
}

func TestValidate_Fallbacks(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Fallbacks = []LLMFallback{{Model: "x"}, {Provider: "nope"}, {Provider: "ollama"}}
	paths := issuePaths(Validate(&cfg))
	assert.Equal(t, []string{"llm.fallbacks[0].provider", "llm.fallbacks[1].provider"}, paths)
}

func TestValidate_Orchestration(t *testing.T) {
	cfg := validConfig()
	cfg.Orchestration.MaxRetries = -1
	cfg.Orchestration.RetainMessages = 10
	cfg.Orchestration.FallbackTool = cfg.Orchestration.PrimaryTool
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "orchestration.maxRetries")
	assert.Contains(t, paths, "orchestration.retainMessages")
	assert.Contains(t, paths, "orchestration.fallbackTool")
}

func TestValidate_SQLiteCheckpointsNeedSQLiteDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Driver = "memory"
	cfg.Storage.Checkpoints = "sqlite"
	assert.Contains(t, issuePaths(Validate(&cfg)), "storage.checkpoints")
}

func TestValidate_GatewayCustomBindAndTLS(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.Bind = "custom"
	cfg.Gateway.TLS.Enabled = true
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "gateway.customBindHost")
	assert.Contains(t, paths, "gateway.tls")

	cfg.Gateway.CustomBindHost = "10.0.0.5"
	cfg.Gateway.TLS.CertPath = "/c.pem"
	cfg.Gateway.TLS.KeyPath = "/k.pem"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_HookCommandRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Hooks.TurnStart = []HookEntry{{Command: "echo hi"}, {Timeout: 10}}
	assert.Equal(t, []string{"hooks.turnStart[1].command"}, issuePaths(Validate(&cfg)))
}

func TestValidate_IssuesSortedByPath(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -5
	cfg.Logging.Level = "loud"
	paths := issuePaths(Validate(&cfg))
	assert.Equal(t, []string{"gateway.port", "llm.apiKey", "logging.level", "tools.rag.endpoint"}, paths)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "port must be 0-65535, got -1"}
	assert.Equal(t, "gateway.port: port must be 0-65535, got -1", issue.String())
}
