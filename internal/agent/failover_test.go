package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kaggler/internal/llm"
)

func failing(err error) *llm.MockClient {
	return &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, err
	}}
}

func failoverRegistry(clients map[string]llm.Client) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	for name, c := range clients {
		reg.Register(name, c)
	}
	return reg
}

func TestFailover_PrimarySucceeds(t *testing.T) {
	primary := &llm.MockClient{CompleteFunc: llm.Scripted(answer("from primary"))}
	backup := &llm.MockClient{}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", resp.Content)
	assert.Empty(t, backup.Calls())
	assert.Equal(t, "claude", f.Name())
}

func TestFailover_RetryableFallsThrough(t *testing.T) {
	primary := failing(&llm.ProviderError{Provider: "claude", Code: 529, Message: "overloaded"})
	backup := &llm.MockClient{CompleteFunc: llm.Scripted(answer("from backup"))}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
}

func TestFailover_NonRetryableStops(t *testing.T) {
	primary := failing(&llm.ProviderError{Provider: "claude", Code: 400, Message: "bad request"})
	backup := &llm.MockClient{}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorContains(t, err, "bad request")
	assert.Empty(t, backup.Calls())
}

func TestFailover_MissingProviderSkipped(t *testing.T) {
	backup := &llm.MockClient{CompleteFunc: llm.Scripted(answer("ok"))}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"ollama": backup}), "claude", []string{"ollama"}, silentLog())

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestFailover_UnregisteredFallbackKeepsRealError(t *testing.T) {
	primary := failing(&llm.ProviderError{Provider: "openai", Code: 429, Message: "quota exceeded"})
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"openai": primary}), "openai", []string{"anthropic"}, silentLog())

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Len(t, primary.Calls(), 1)
}

func TestFailover_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := failing(errors.New("request timeout"))
	backup := &llm.MockClient{}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	_, err := f.Complete(ctx, llm.CompletionRequest{})
	assert.Error(t, err)
	assert.Empty(t, backup.Calls())
}

func TestFailover_Stream(t *testing.T) {
	primary := &llm.MockClient{StreamFunc: func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
		return nil, errors.New("Rate Limit exceeded")
	}}
	backup := &llm.MockClient{CompleteFunc: llm.Scripted(answer("streamed"))}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	ch, err := f.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	var got string
	for ev := range ch {
		got += ev.Content
	}
	assert.Equal(t, "streamed", got)
}

func TestFailover_BenchesFailedProvider(t *testing.T) {
	primaryCalls := 0
	primary := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		primaryCalls++
		if primaryCalls == 1 {
			return nil, &llm.ProviderError{Provider: "claude", Code: 503, Message: "unavailable"}
		}
		return &llm.CompletionResponse{Content: "primary"}, nil
	}}
	backup := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "backup"}, nil
	}}
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	for range 2 {
		resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, "backup", resp.Content)
	}
	assert.Equal(t, 1, primaryCalls, "benched provider is not retried first")
	assert.Equal(t, []string{"openai", "claude"}, f.order())

	now = now.Add(providerCooldown + time.Second)
	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Content)
	assert.Equal(t, []string{"claude", "openai"}, f.order())
}

func TestFailover_AllBenchedStillTried(t *testing.T) {
	primary := failing(&llm.ProviderError{Provider: "claude", Code: 500, Message: "boom"})
	backup := failing(&llm.ProviderError{Provider: "openai", Code: 502, Message: "bad gateway"})
	f := NewFailoverClient(failoverRegistry(map[string]llm.Client{"claude": primary, "openai": backup}), "claude", []string{"openai"}, silentLog())

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorContains(t, err, "bad gateway")

	_, err = f.Complete(context.Background(), llm.CompletionRequest{})
	assert.Error(t, err)
	assert.Len(t, primary.Calls(), 2)
	assert.Len(t, backup.Calls(), 2)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&llm.ProviderError{Code: 429}, true},
		{&llm.ProviderError{Code: 401}, true},
		{&llm.ProviderError{Code: 404}, false},
		{&llm.ProviderError{Code: 504}, true},
		{&llm.ProviderError{Message: "rate limit reached"}, true},
		{errors.New("server at capacity"), true},
		{errors.New("Overloaded"), true},
		{errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryable(tt.err), "%v", tt.err)
	}
}
