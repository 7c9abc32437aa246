package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kaggler/internal/logging"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
}

func serve(h http.Handler, method, origin, reqID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/topics", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if reqID != "" {
		req.Header.Set(requestIDHeader, reqID)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLoggingMiddleware_RecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "debug")

	rr := serve(loggingMiddleware(okHandler("hello"), log), http.MethodGet, "", "")
	assert.Equal(t, "hello", rr.Body.String())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.EqualValues(t, 200, line["status"])
	assert.EqualValues(t, 5, line["bytes"])
	assert.Equal(t, "/api/topics", line["path"])
}

func TestLoggingMiddleware_ServerErrorsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "debug")
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	serve(loggingMiddleware(failing, log), http.MethodGet, "", "")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestRequestIDMiddleware(t *testing.T) {
	h := requestIDMiddleware(okHandler(""))

	assert.NotEmpty(t, serve(h, http.MethodGet, "", "").Header().Get(requestIDHeader))
	assert.Equal(t, "kaggle-42", serve(h, http.MethodGet, "", "kaggle-42").Header().Get(requestIDHeader))
}

func TestRecoverMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := serve(recoverMiddleware(panicky, testLog()), http.MethodGet, "", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), CodeInternal)
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"no list denies", nil, "http://localhost:3000", ""},
		{"wildcard", []string{"*"}, "http://localhost:3000", "http://localhost:3000"},
		{"listed", []string{"http://notebook.local"}, "http://notebook.local", "http://notebook.local"},
		{"unlisted", []string{"http://notebook.local"}, "http://evil.com", ""},
		{"same origin request", []string{"*"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(corsMiddleware(okHandler(""), tt.allowed), http.MethodGet, tt.origin, "")
			assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, requestIDHeader, rr.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	rr := serve(corsMiddleware(okHandler("should not reach"), nil), http.MethodOptions, "http://localhost:3000", "")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestWithMiddleware(t *testing.T) {
	h := withMiddleware(okHandler(""), testLog(), []string{"http://notebook.local"})

	rr := serve(h, http.MethodGet, "http://notebook.local", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Equal(t, "http://notebook.local", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = serve(h, http.MethodGet, "http://elsewhere.com", "")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithMiddleware_RecoversInsideChain(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := serve(withMiddleware(panicky, testLog(), nil), http.MethodGet, "", "req-1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "req-1", rr.Header().Get(requestIDHeader))
}

func TestStatusWriter_PassesThroughFlush(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	var _ http.Flusher = sw
	sw.Flush()
	assert.True(t, rr.Flushed)
	assert.Same(t, rr, sw.Unwrap())
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := sw.Hijack()
	assert.Error(t, err)
}
