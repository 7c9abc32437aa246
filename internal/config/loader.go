package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential and endpoint fields so they can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.LLM.Endpoint = expandEnvVars(cfg.LLM.Endpoint)
	for i := range cfg.LLM.Fallbacks {
		cfg.LLM.Fallbacks[i].APIKey = expandEnvVars(cfg.LLM.Fallbacks[i].APIKey)
		cfg.LLM.Fallbacks[i].Endpoint = expandEnvVars(cfg.LLM.Fallbacks[i].Endpoint)
	}
	cfg.Tools.RAG.Endpoint = expandEnvVars(cfg.Tools.RAG.Endpoint)
	cfg.Tools.WebSearch.APIKey = expandEnvVars(cfg.Tools.WebSearch.APIKey)
	cfg.Tools.WebSearch.SearchEngineID = expandEnvVars(cfg.Tools.WebSearch.SearchEngineID)
	cfg.Topics.Endpoint = expandEnvVars(cfg.Topics.Endpoint)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}

	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModels[cfg.LLM.Provider]
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.SummaryTemperature == 0 {
		cfg.LLM.SummaryTemperature = 0.1
	}
	if cfg.LLM.EvalTemperature == 0 {
		cfg.LLM.EvalTemperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}

	if cfg.Tools.RAG.K == 0 {
		cfg.Tools.RAG.K = 4
	}
	if cfg.Tools.RAG.TimeoutSeconds == 0 {
		cfg.Tools.RAG.TimeoutSeconds = 30
	}
	if cfg.Tools.WebSearch.Provider == "" {
		cfg.Tools.WebSearch.Provider = "none"
	}
	if cfg.Tools.WebSearch.MaxResults == 0 {
		cfg.Tools.WebSearch.MaxResults = 5
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Checkpoints == "" {
		cfg.Storage.Checkpoints = "memory"
	}
	if cfg.Session.User == "" {
		cfg.Session.User = "default"
	}

	o := &cfg.Orchestration
	if o.TokenBudget == 0 {
		o.TokenBudget = 8000
	}
	if o.SummaryThreshold == 0 {
		o.SummaryThreshold = 10
	}
	if o.RetainMessages == 0 {
		o.RetainMessages = 3
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.EvaluatorContentLimit == 0 {
		o.EvaluatorContentLimit = 1500
	}
	if o.MaxToolRounds == 0 {
		o.MaxToolRounds = 5
	}
	if o.MaxConcurrentTurns == 0 {
		o.MaxConcurrentTurns = 4
	}
	if o.PrimaryTool == "" {
		o.PrimaryTool = "rag_tool"
	}
	if o.FallbackTool == "" {
		o.FallbackTool = "web_search_tool"
	}

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"ollama":    "llama3.1",
}

// applyEnvOverrides reads KAGGLER_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAGGLER_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KAGGLER_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KAGGLER_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("KAGGLER_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("KAGGLER_RAG_ENDPOINT"); v != "" {
		cfg.Tools.RAG.Endpoint = v
	}
	if v := os.Getenv("KAGGLER_WEB_SEARCH_PROVIDER"); v != "" {
		cfg.Tools.WebSearch.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KAGGLER_WEB_SEARCH_API_KEY"); v != "" {
		cfg.Tools.WebSearch.APIKey = v
	}
	if v := os.Getenv("KAGGLER_TOPICS_ENDPOINT"); v != "" {
		cfg.Topics.Endpoint = v
	}
	if v := os.Getenv("KAGGLER_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("KAGGLER_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("KAGGLER_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("KAGGLER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
