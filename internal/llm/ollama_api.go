package llm

import "strings"

// DefaultOllamaEndpoint is the local Ollama server.
const DefaultOllamaEndpoint = "http://localhost:11434"

// NewOllamaAPIClient creates a client for an Ollama server through its
// OpenAI-compatible /v1 API, which carries tool calls and JSON-schema output.
// baseURL should be like "http://localhost:11434".
func NewOllamaAPIClient(baseURL, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOllamaEndpoint
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	return NewOpenAIClient("ollama", baseURL, "", model)
}
