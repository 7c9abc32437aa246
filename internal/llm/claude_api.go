package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAnthropicEndpoint is the Anthropic API base URL.
	DefaultAnthropicEndpoint = "https://api.anthropic.com"
	anthropicVersion         = "2023-06-01"
	defaultMaxTokens         = 1024
)

// ClaudeAPIClient is a direct HTTP client for the Anthropic Messages API.
type ClaudeAPIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClaudeAPIClient creates a new Claude API client. An empty baseURL uses
// DefaultAnthropicEndpoint.
func NewClaudeAPIClient(baseURL, apiKey, model string) *ClaudeAPIClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicEndpoint
	}
	return &ClaudeAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (c *ClaudeAPIClient) Name() string {
	return "anthropic"
}

// Complete sends a non-streaming completion request to Claude API.
func (c *ClaudeAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result claudeAPIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return c.responseToCompletion(&result, req.ResponseSchema, time.Since(start)), nil
}

// Stream sends a streaming completion request to Claude API.
func (c *ClaudeAPIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan StreamEvent)
	go c.streamResponse(ctx, eventChan, resp, req.ResponseSchema)
	return eventChan, nil
}

func (c *ClaudeAPIClient) do(ctx context.Context, req CompletionRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(c.buildRequestBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	return postJSON(c.client, httpReq, c.Name())
}

func (c *ClaudeAPIClient) buildRequestBody(req CompletionRequest, stream bool) map[string]any {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"model":      model,
		"messages":   messagesToClaude(req.Messages),
		"max_tokens": maxTokens,
		"stream":     stream,
	}

	if req.System != "" {
		body["system"] = req.System
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}

	var tools []map[string]any
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": parseJSONSchema(t.InputSchema),
		})
	}

	// Structured output is a forced call to a tool whose input schema is the
	// response schema.
	if rs := req.ResponseSchema; rs != nil {
		tools = append(tools, map[string]any{
			"name":         rs.Name,
			"description":  rs.Description,
			"input_schema": parseJSONSchema(rs.Schema),
		})
		body["tool_choice"] = map[string]any{"type": "tool", "name": rs.Name}
	}

	if len(tools) > 0 {
		body["tools"] = tools
	}

	return body
}

// messagesToClaude converts the conversation into Messages API turns. System
// messages travel in the top-level "system" field and are skipped here;
// consecutive tool results are folded into a single user turn.
func messagesToClaude(msgs []Message) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue

		case RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}
			if n := len(out); n > 0 && isToolResultTurn(out[n-1]) {
				out[n-1]["content"] = append(out[n-1]["content"].([]map[string]any), block)
				continue
			}
			out = append(out, map[string]any{
				"role":    RoleUser,
				"content": []map[string]any{block},
			})

		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, map[string]any{"role": RoleAssistant, "content": m.Content})
				continue
			}
			var blocks []map[string]any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": parseToolInput(tc.Input),
				})
			}
			out = append(out, map[string]any{"role": RoleAssistant, "content": blocks})

		default:
			out = append(out, map[string]any{"role": RoleUser, "content": m.Content})
		}
	}
	return out
}

func isToolResultTurn(turn map[string]any) bool {
	if turn["role"] != RoleUser {
		return false
	}
	blocks, ok := turn["content"].([]map[string]any)
	return ok && len(blocks) > 0 && blocks[0]["type"] == "tool_result"
}

func (c *ClaudeAPIClient) streamResponse(ctx context.Context, eventChan chan<- StreamEvent, resp *http.Response, rs *ResponseSchema) {
	defer close(eventChan)
	defer resp.Body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case eventChan <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := newServerSentEventScanner(resp.Body)
	var final claudeAPIResponse
	var partial strings.Builder
	var current *claudeContentBlock

	for scanner.Scan() {
		var event claudeStreamEvent
		if err := json.Unmarshal(scanner.Data(), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				final.Model = event.Message.Model
				final.Usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil {
				block := *event.ContentBlock
				current = &block
				partial.Reset()
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if current != nil {
					current.Text += event.Delta.Text
				}
				if rs == nil && !send(StreamEvent{Type: EventDelta, Content: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				partial.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				if current.Type == "tool_use" && partial.Len() > 0 {
					current.Input = json.RawMessage(partial.String())
				}
				final.Content = append(final.Content, *current)
				current = nil
			}

		case "message_delta":
			if event.Delta.StopReason != "" {
				final.StopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				final.Usage.OutputTokens = event.Usage.OutputTokens
			}

		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			send(StreamEvent{Type: EventError, Error: msg})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(StreamEvent{Type: EventError, Error: fmt.Sprintf("reading stream: %v", err)})
		return
	}

	out := c.responseToCompletion(&final, rs, 0)
	if rs != nil && out.Content != "" {
		if !send(StreamEvent{Type: EventDelta, Content: out.Content}) {
			return
		}
	}
	send(StreamEvent{Type: EventDone, Response: out})
}

func (c *ClaudeAPIClient) responseToCompletion(resp *claudeAPIResponse, rs *ResponseSchema, duration time.Duration) *CompletionResponse {
	var content strings.Builder
	var toolCalls []ToolCall
	structured := ""

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			input := string(block.Input)
			if input == "" {
				input = "{}"
			}
			if rs != nil && block.Name == rs.Name {
				structured = input
				continue
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	text := content.String()
	if rs != nil {
		text = structured
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}

	return &CompletionResponse{
		Content:    text,
		StopReason: resp.StopReason,
		ToolCalls:  toolCalls,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Model:    model,
		Duration: duration,
	}
}

// API Response structures

type claudeAPIResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Role       string               `json:"role"`
	Content    []claudeContentBlock `json:"content"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
}

type claudeContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeStreamEvent struct {
	Type         string              `json:"type"`
	Delta        claudeStreamDelta   `json:"delta"`
	Message      *claudeAPIResponse  `json:"message,omitempty"`
	ContentBlock *claudeContentBlock `json:"content_block,omitempty"`
	Usage        *claudeUsage        `json:"usage,omitempty"`
	Error        *claudeStreamError  `json:"error,omitempty"`
}

type claudeStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type claudeStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
