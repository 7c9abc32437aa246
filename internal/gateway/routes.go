package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/agent"
)

// defaultTurnTimeout is the maximum duration of one turn started over the
// gateway.
const defaultTurnTimeout = 5 * time.Minute

const defaultSearchLimit = 20

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/topics/{topic}/turns", s.handleSubmitTurn)
	mux.HandleFunc("POST /api/topics/{topic}/reset", s.handleResetTopic)
	mux.HandleFunc("GET /api/topics/{topic}/snapshot", s.handleGetSnapshot)
	mux.HandleFunc("GET /api/topics", s.handleListTopics)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	// Catch-all for unknown routes. It shadows ServeMux's own 405 handling,
	// so it answers that case itself.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if allow := allowedMethods(mux, r); len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
			writeError(w, http.StatusMethodNotAllowed, CodeInvalidParams, r.Method+" not allowed on "+r.URL.Path)
			return
		}
		handleNotFound(w, r)
	})
}

// allowedMethods lists the methods other than r.Method that have a route
// for r's path.
func allowedMethods(mux *http.ServeMux, r *http.Request) []string {
	var allow []string
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		if method == r.Method {
			continue
		}
		alt := r.Clone(r.Context())
		alt.Method = method
		if _, pattern := mux.Handler(alt); pattern != "/" && pattern != "" {
			allow = append(allow, method)
		}
	}
	return allow
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodTurnSubmit, s.rpcTurnSubmit)
	s.Handle(MethodTopicReset, s.rpcTopicReset)
	s.Handle(MethodSnapshotGet, s.rpcSnapshotGet)
	s.Handle(MethodTopicList, s.rpcTopicList)
	s.Handle(MethodTranscriptSearch, s.rpcTranscriptSearch)
}

// turnBody is the HTTP request body for a turn.
type turnBody struct {
	Text          string `json:"text"`
	SessionHandle string `json:"sessionHandle,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var body turnBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())
		return
	}
	req := agent.TurnRequest{
		TopicID:       r.PathValue("topic"),
		SessionHandle: body.SessionHandle,
		Text:          body.Text,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	if body.Stream || r.URL.Query().Get("stream") == "1" {
		s.streamTurn(ctx, w, req)
		return
	}

	res, err := s.svc.SubmitTurn(ctx, req)
	if err != nil {
		code, status := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// streamTurn writes the turn's events as newline-delimited JSON, flushing
// after each one.
func (s *Server) streamTurn(ctx context.Context, w http.ResponseWriter, req agent.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}

	events, err := s.svc.SubmitTurnStream(ctx, req)
	if err != nil {
		code, status := classify(err)
		writeError(w, status, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Keep draining so the turn goroutine can finish.
			s.log.Debug().Err(err).Msg("stream write failed")
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleResetTopic(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	handle, err := s.svc.ResetTopic(r.Context(), topic)
	if err != nil {
		code, status := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	s.announceReset(topic, handle, "")
	writeJSON(w, http.StatusOK, map[string]string{"topicId": topic, "sessionHandle": handle})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.ExportSnapshot(r.Context(), r.PathValue("topic"))
	if err != nil {
		code, status := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.svc.ListTopics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("q") == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "q is required")
		return
	}
	limit := defaultSearchLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidParams, "limit must be a positive integer")
			return
		}
		limit = n
	}
	results, err := s.svc.Search(r.Context(), q.Get("q"), q.Get("topic"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// announceReset tells connected clients, except the one that asked, that a
// topic was reset.
func (s *Server) announceReset(topic, handle, skip string) {
	s.clients.Broadcast(EventTopicReset, TopicResetNotice{TopicID: topic, SessionHandle: handle}, s.nextSeq(), skip)
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	var uptime int64
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt).Milliseconds()
	}
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.build.Version,
		Clients:  s.clients.Count(),
		Turns:    s.clients.Turns(),
		UptimeMs: uptime,
	})
}

type topicParams struct {
	TopicID string `json:"topicId"`
}

// rpcTurnSubmit runs the turn in the background so the connection keeps
// serving other requests. Progress arrives as turn.chunk events tagged with
// the request ID; the response carries the final result.
func (s *Server) rpcTurnSubmit(rc *RequestContext) {
	var req agent.TurnRequest
	if err := rc.Params(&req); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}

	ctx, done, err := rc.Client.StartTurn(rc.Ctx, rc.Frame.ID, s.turnTimeout)
	if err != nil {
		rc.Client.RespondError(rc.Frame.ID, ErrorShape{
			Code:      CodeBusy,
			Message:   err.Error(),
			Retryable: errors.Is(err, ErrTooManyTurns),
		})
		return
	}
	events, err := s.svc.SubmitTurnStream(ctx, req)
	if err != nil {
		done()
		rc.RespondErr(err)
		return
	}

	go func() {
		defer done()
		for ev := range events {
			switch ev.Type {
			case agent.EventDone:
				rc.Respond(ev.Result)
			case agent.EventError:
				rc.RespondError(CodeTurnFailed, ev.Error)
			default:
				chunk := TurnChunk{RequestID: rc.Frame.ID, Event: ev}
				if err := rc.Client.SendEvent(EventTurnChunk, chunk, s.nextSeq()); err != nil {
					s.log.Debug().Err(err).Str("connId", rc.Client.ConnID).Msg("chunk send failed")
				}
			}
		}
	}()
}

func (s *Server) rpcTopicReset(rc *RequestContext) {
	var p topicParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	handle, err := s.svc.ResetTopic(rc.Ctx, p.TopicID)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]string{"topicId": p.TopicID, "sessionHandle": handle})
	s.announceReset(p.TopicID, handle, rc.Client.ConnID)
}

func (s *Server) rpcSnapshotGet(rc *RequestContext) {
	var p topicParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.TopicID == "" {
		rc.RespondError(CodeInvalidParams, "topicId is required")
		return
	}
	rec, err := s.svc.ExportSnapshot(rc.Ctx, p.TopicID)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(rec)
}

func (s *Server) rpcTopicList(rc *RequestContext) {
	topics, err := s.svc.ListTopics(rc.Ctx)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"topics": topics})
}

type searchParams struct {
	Query   string `json:"query"`
	TopicID string `json:"topicId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) rpcTranscriptSearch(rc *RequestContext) {
	var p searchParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Query == "" {
		rc.RespondError(CodeInvalidParams, "query is required")
		return
	}
	if p.Limit <= 0 {
		p.Limit = defaultSearchLimit
	}
	results, err := s.svc.Search(rc.Ctx, p.Query, p.TopicID, p.Limit)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"results": results})
}
