package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// serverSentEventScanner reads the data lines of a Server-Sent Events stream.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
	data    string
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &serverSentEventScanner{scanner: sc}
}

// Scan advances to the next "data:" line. It returns false at the end of the
// stream or at the "[DONE]" sentinel.
func (s *serverSentEventScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return false
		}
		s.data = data
		return true
	}
	return false
}

// Data returns the payload of the last scanned data line.
func (s *serverSentEventScanner) Data() []byte {
	return []byte(s.data)
}

// Err returns the first non-EOF read error.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}

// parseJSONSchema converts a JSON schema string to a map.
func parseJSONSchema(schemaStr string) map[string]any {
	if schemaStr == "" {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaStr), &schema); err != nil {
		// If parsing fails, return nil - the API will handle the error
		return nil
	}

	return schema
}

// parseToolInput decodes a tool call's JSON input; empty input is an empty
// object.
func parseToolInput(input string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(input) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(input), &out)
	return out
}

// postJSON executes a JSON request and returns the response, converting non-2xx
// statuses and transport failures into a ProviderError.
func postJSON(client *http.Client, req *http.Request, provider string) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: fmt.Sprintf("request failed: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{
			Provider: provider,
			Message:  strings.TrimSpace(string(body)),
			Code:     resp.StatusCode,
		}
	}
	return resp, nil
}
