package topic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- HTTP provider tests ---

func TestHTTPProviderFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/competition/store-sales", r.URL.Path)
		_, _ = w.Write([]byte(`{"competition":{"title":"Store Sales","description":" Forecast sales ","evaluation":"RMSLE"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL+"/", testLogger())
	meta, err := p.Fetch(context.Background(), "store-sales")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicMetadata{Title: "Store Sales", Description: "Forecast sales", Evaluation: "RMSLE"}, meta)
}

func TestHTTPProviderFlatBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Titanic","description":"Survival","evaluation":"Accuracy"}`))
	}))
	defer server.Close()

	meta, err := NewHTTPProvider(server.URL, testLogger()).Fetch(context.Background(), "titanic")
	require.NoError(t, err)
	assert.Equal(t, "Titanic", meta.Title)
	assert.True(t, meta.Complete())
}

func TestHTTPProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		notFind bool
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, notFind: true},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			meta, err := NewHTTPProvider(server.URL, testLogger()).Fetch(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, domain.TopicMetadata{}, meta)
			assert.Equal(t, tt.notFind, errors.Is(err, ErrUnknownTopic))
		})
	}
}

func TestHTTPProviderSharesInflight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"competition":{"title":"T"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL, testLogger())

	var wg sync.WaitGroup
	results := make([]domain.TopicMetadata, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = p.Fetch(context.Background(), "same")
		}()
	}
	// Give the goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.Equal(t, "T", r.Title)
	}
}

func TestHTTPProviderCancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"competition":{"title":"T"}}`))
	}))
	defer server.Close()
	defer close(release)

	p := NewHTTPProvider(server.URL, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Fetch(ctx, "same")
		firstErr <- err
	}()
	<-started

	second := make(chan domain.TopicMetadata, 1)
	go func() {
		md, _ := p.Fetch(context.Background(), "same")
		second <- md
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	release <- struct{}{}
	select {
	case md := <-second:
		assert.Equal(t, "T", md.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller never got the shared result")
	}
}

// --- Static and chain tests ---

func TestStatic(t *testing.T) {
	s := Static{"a": {Title: "A"}}
	meta, err := s.Fetch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", meta.Title)

	_, err = s.Fetch(context.Background(), "b")
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestChainMerges(t *testing.T) {
	calls := 0
	tail := ProviderFunc(func(context.Context, string) (domain.TopicMetadata, error) {
		calls++
		return domain.TopicMetadata{Title: "ignored", Description: "D", Evaluation: "E"}, nil
	})

	c := Chain{Static{"t": {Title: "Static title"}}, tail}
	meta, err := c.Fetch(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicMetadata{Title: "Static title", Description: "D", Evaluation: "E"}, meta)
	assert.Equal(t, 1, calls)

	complete := Chain{Static{"t": {Title: "T", Description: "D", Evaluation: "E"}}, tail}
	_, err = complete.Fetch(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "complete metadata stops the chain")
}

func TestChainAllFail(t *testing.T) {
	failing := ProviderFunc(func(context.Context, string) (domain.TopicMetadata, error) {
		return domain.TopicMetadata{}, errors.New("down")
	})
	_, err := Chain{Static{}, failing}.Fetch(context.Background(), "t")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTopic)
	assert.ErrorContains(t, err, "down")

	meta, err := Chain{Static{"t": {Title: "T"}}, failing}.Fetch(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "T", meta.Title)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.TopicsConfig{}, testLogger()))

	p := FromConfig(config.TopicsConfig{Static: map[string]config.TopicEntry{"t": {Title: "T"}}}, testLogger())
	require.IsType(t, Static{}, p)

	p = FromConfig(config.TopicsConfig{Endpoint: "http://x"}, testLogger())
	require.IsType(t, &HTTPProvider{}, p)

	p = FromConfig(config.TopicsConfig{
		Endpoint: "http://x",
		Static:   map[string]config.TopicEntry{"t": {Title: "T"}},
	}, testLogger())
	chain, ok := p.(Chain)
	require.True(t, ok)
	assert.Len(t, chain, 2)
}
