package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/session"
)

// HealthResponse is returned by health endpoints. The HTTP endpoint only
// populates Status; the RPC handler populates all fields.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	Turns    int    `json:"turns,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorShape{Code: code, Message: message})
}

// classify maps a service error to an RPC error code and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, agent.ErrNoTopic), errors.Is(err, agent.ErrEmptyTurn):
		return CodeInvalidParams, http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTurnFailed, http.StatusGatewayTimeout
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs. Ctx is cancelled when
// the client disconnects.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// RespondErr sends err as an error response with a code derived from it.
func (rc *RequestContext) RespondErr(err error) {
	code, _ := classify(err)
	rc.RespondError(code, err.Error())
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	return rc.Frame.DecodeParams(target)
}
