package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/session"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- turn tests ---

func TestSubmitTurnHTTP(t *testing.T) {
	_, _, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns", `{"text":"what features matter?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res agent.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "re: what features matter?", res.Answer)
	assert.Equal(t, "titanic", res.TopicID)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSubmitTurnHTTP_EmptyText(t *testing.T) {
	_, _, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var shape ErrorShape
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shape))
	assert.Equal(t, CodeInvalidParams, shape.Code)
}

func TestSubmitTurnHTTP_BadBody(t *testing.T) {
	_, _, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitTurnHTTP_ServiceFailure(t *testing.T) {
	_, svc, ts := testServer(t)
	svc.failTurns(context.DeadlineExceeded)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns", `{"text":"hi"}`)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestSubmitTurnHTTP_Stream(t *testing.T) {
	_, _, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns", `{"text":"hello","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var events []agent.TurnEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev agent.TurnEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())

	require.Len(t, events, 4)
	last := events[len(events)-1]
	assert.Equal(t, agent.EventDone, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "re: hello", last.Result.Answer)
}

func TestSubmitTurnHTTP_StreamQueryFlag(t *testing.T) {
	_, _, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/turns?stream=1", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
}

// --- topic tests ---

func TestResetTopicHTTP(t *testing.T) {
	_, svc, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/topics/titanic/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "titanic", out["topicId"])
	assert.Equal(t, "thread_titanic_reset", out["sessionHandle"])
	assert.Equal(t, 1, svc.resetCount())
}

func TestGetSnapshotHTTP(t *testing.T) {
	_, svc, ts := testServer(t)
	svc.storeSnapshot(session.SnapshotRecord{TopicKey: "titanic", SessionHandle: "thread_titanic"})

	resp, err := http.Get(ts.URL + "/api/topics/titanic/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec session.SnapshotRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "titanic", rec.TopicKey)
}

func TestGetSnapshotHTTP_NotFound(t *testing.T) {
	_, _, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/topics/nothing-here/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTopicsHTTP(t *testing.T) {
	_, svc, ts := testServer(t)
	svc.storeSnapshot(session.SnapshotRecord{TopicKey: "titanic", SessionHandle: "thread_titanic"})

	resp, err := http.Get(ts.URL + "/api/topics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out["topics"], 1)
	assert.Equal(t, "titanic", out["topics"][0]["topicKey"])
}

func TestSearchHTTP(t *testing.T) {
	_, svc, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/search?q=stacking&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"stacking"}, svc.queries())
}

func TestSearchHTTP_Validation(t *testing.T) {
	_, _, ts := testServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing_q", ""},
		{"bad_limit", "?q=x&limit=abc"},
		{"zero_limit", "?q=x&limit=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/search" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/topics/titanic/turns")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))

	resp2, err := http.Post(ts.URL+"/api/topics", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
	assert.Equal(t, "GET", resp2.Header.Get("Allow"))
}

func TestUnknownRoute(t *testing.T) {
	_, _, ts := testServer(t)

	for _, path := range []string{"/nope", "/api/topics/titanic/unknown"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

// --- classify tests ---

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{agent.ErrNoTopic, CodeInvalidParams, http.StatusBadRequest},
		{agent.ErrEmptyTurn, CodeInvalidParams, http.StatusBadRequest},
		{session.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, CodeTurnFailed, http.StatusGatewayTimeout},
		{assert.AnError, CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, status := classify(tt.err)
		assert.Equal(t, tt.code, code, "%v", tt.err)
		assert.Equal(t, tt.status, status, "%v", tt.err)
	}
}

func TestStreamTurn_RequiresFlusher(t *testing.T) {
	srv, _, _ := testServer(t)

	w := &noFlushWriter{header: http.Header{}}
	srv.streamTurn(context.Background(), w, agent.TurnRequest{TopicID: "titanic", Text: "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.status)
}

type noFlushWriter struct {
	header http.Header
	status int
}

func (w *noFlushWriter) Header() http.Header         { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(code int)        { w.status = code }
