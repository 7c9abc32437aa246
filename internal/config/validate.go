package config

import (
	"cmp"
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// LLM validation
	validProviders := []string{"openai", "anthropic", "ollama"}
	oneOf("llm.provider", cfg.LLM.Provider, validProviders)
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		add("llm.apiKey", "required for provider %q (except for ollama)", cfg.LLM.Provider)
	}
	for name, temp := range map[string]float64{
		"llm.temperature":        cfg.LLM.Temperature,
		"llm.summaryTemperature": cfg.LLM.SummaryTemperature,
		"llm.evalTemperature":    cfg.LLM.EvalTemperature,
	} {
		if temp < 0 || temp > 2 {
			add(name, "must be 0-2, got %g", temp)
		}
	}
	if cfg.LLM.MaxTokens < 0 {
		add("llm.maxTokens", "must not be negative, got %d", cfg.LLM.MaxTokens)
	}
	for i, fb := range cfg.LLM.Fallbacks {
		path := fmt.Sprintf("llm.fallbacks[%d]", i)
		if fb.Provider == "" {
			add(path+".provider", "provider is required")
			continue
		}
		oneOf(path+".provider", fb.Provider, validProviders)
	}

	// Tools validation
	if cfg.Tools.RAG.IsEnabled() && cfg.Tools.RAG.Endpoint == "" {
		add("tools.rag.endpoint", "required when the RAG tool is enabled")
	}
	if cfg.Tools.RAG.K < 0 {
		add("tools.rag.k", "must not be negative, got %d", cfg.Tools.RAG.K)
	}
	ws := cfg.Tools.WebSearch
	oneOf("tools.webSearch.provider", ws.Provider, []string{"brave", "google", "none"})
	if (ws.Provider == "brave" || ws.Provider == "google") && ws.APIKey == "" {
		add("tools.webSearch.apiKey", "required for provider %q", ws.Provider)
	}
	if ws.Provider == "google" && ws.SearchEngineID == "" {
		add("tools.webSearch.searchEngineId", "required for provider \"google\"")
	}

	// Storage validation
	oneOf("storage.driver", cfg.Storage.Driver, []string{"sqlite", "memory"})
	oneOf("storage.checkpoints", cfg.Storage.Checkpoints, []string{"sqlite", "memory"})
	if cfg.Storage.Checkpoints == "sqlite" && cfg.Storage.Driver == "memory" {
		add("storage.checkpoints", "sqlite checkpoints need storage.driver sqlite")
	}

	// Orchestration validation
	o := cfg.Orchestration
	for name, v := range map[string]int{
		"orchestration.tokenBudget":           o.TokenBudget,
		"orchestration.summaryThreshold":      o.SummaryThreshold,
		"orchestration.retainMessages":        o.RetainMessages,
		"orchestration.maxRetries":            o.MaxRetries,
		"orchestration.evaluatorContentLimit": o.EvaluatorContentLimit,
		"orchestration.maxToolRounds":         o.MaxToolRounds,
		"orchestration.maxConcurrentTurns":    o.MaxConcurrentTurns,
	} {
		if v < 0 {
			add(name, "must not be negative, got %d", v)
		}
	}
	if o.RetainMessages > 0 && o.SummaryThreshold > 0 && o.RetainMessages >= o.SummaryThreshold {
		add("orchestration.retainMessages", "must be below summaryThreshold (%d), got %d", o.SummaryThreshold, o.RetainMessages)
	}
	if o.PrimaryTool != "" && o.PrimaryTool == o.FallbackTool {
		add("orchestration.fallbackTool", "must differ from primaryTool %q", o.PrimaryTool)
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is \"custom\"")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})

	// Hooks validation
	for name, entries := range map[string][]HookEntry{
		"hooks.turnStart":     cfg.Hooks.TurnStart,
		"hooks.turnEnd":       cfg.Hooks.TurnEnd,
		"hooks.snapshotSaved": cfg.Hooks.SnapshotSaved,
		"hooks.topicReset":    cfg.Hooks.TopicReset,
		"hooks.gatewayStart":  cfg.Hooks.GatewayStart,
		"hooks.gatewayStop":   cfg.Hooks.GatewayStop,
	} {
		for i, h := range entries {
			if h.Command == "" {
				add(fmt.Sprintf("%s[%d].command", name, i), "command is required")
			}
		}
	}

	slices.SortStableFunc(issues, func(a, b ValidationIssue) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return issues
}
