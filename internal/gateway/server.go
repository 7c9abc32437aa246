// Package gateway exposes the turn service over HTTP and a WebSocket RPC
// protocol.
package gateway

import (
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/hooks"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/store"
	"github.com/soyeahso/kaggler/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// TurnService is the part of agent.Service the gateway serves.
type TurnService interface {
	SubmitTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
	SubmitTurnStream(ctx context.Context, req agent.TurnRequest) (<-chan agent.TurnEvent, error)
	ResetTopic(ctx context.Context, topic string) (string, error)
	ExportSnapshot(ctx context.Context, topic string) (session.SnapshotRecord, error)
	ListTopics(ctx context.Context) ([]domain.SnapshotInfo, error)
	Search(ctx context.Context, query, topic string, limit int) ([]store.TranscriptEntry, error)
}

// Server is the Kaggler gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	svc      TurnService
	log      *logging.Logger
	clients  *Hub
	handlers map[string]RequestHandler
	build    version.Build
	eventSeq atomic.Int64

	// turnTimeout bounds a single turn started by a request.
	turnTimeout time.Duration
	tick        time.Duration // keepalive ping interval

	// Hook manager (optional, nil if not configured)
	hooks *hooks.Manager

	mounts []mount

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

type mount struct {
	pattern string
	handler http.Handler
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMount serves h under pattern next to the gateway's own routes, behind
// the same middleware.
func WithMount(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.mounts = append(s.mounts, mount{pattern: pattern, handler: h})
	}
}

// WithTurnTimeout overrides the per-turn deadline.
func WithTurnTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.turnTimeout = d
		}
	}
}

// WithTickInterval overrides the keepalive ping interval.
func WithTickInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.tick = d
		}
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, svc TurnService, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		log:         log.Sub("gateway"),
		clients:     NewHub(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		build:       version.Get(),
		turnTimeout: defaultTurnTimeout,
		tick:        tickInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Handler returns the HTTP handler with every route and the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// resolveBindAddr computes the listen address from config. Unknown bind
// modes fall back to loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cmp.Or(cfg.CustomBindHost, "0.0.0.0")
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Streamed turns hold the response open; the turn deadline bounds them.
		WriteTimeout: s.turnTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Enable TLS if configured
	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, tlsCfg)
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" && s.cfg.Bind != "" {
		s.log.Warn().Msg("TLS is not enabled, conversations travel in cleartext")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Int("methods", len(s.handlers)).
		Msg("gateway server starting")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

const handshakeTimeout = 10 * time.Second

// handshakeError is a failed handshake that the peer is told about before
// the connection closes.
type handshakeError struct {
	reqID string
	shape ErrorShape
}

func (e *handshakeError) Error() string {
	return e.shape.Code + ": " + e.shape.Message
}

// handleWebSocket upgrades the request, runs the handshake and then serves
// request frames until the peer leaves or stops answering pings.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		var he *handshakeError
		if errors.As(err, &he) {
			rejectAndClose(conn, he)
		}
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	// Turns started on this connection are cancelled when it goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	client.KeepAlive(ctx, s.tick)
	s.serveFrames(ctx, client)
}

// handshake runs challenge, connect, hello-ok within handshakeTimeout.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	reqID, params, err := readConnect(conn)
	if err != nil {
		return nil, err
	}

	client := NewClient(conn, params.Client, s.log.Sub("ws"))
	if err := client.Respond(reqID, s.hello(client.ConnID)); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("platform", params.Client.Platform).
		Msg("client connected")
	return client, nil
}

// readConnect reads the connect request and checks the protocol range.
func readConnect(conn *websocket.Conn) (string, ConnectParams, error) {
	var params ConnectParams

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", params, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return "", params, &handshakeError{shape: ErrorShape{Code: CodeProtocol, Message: "malformed frame"}}
	}
	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		return "", params, &handshakeError{reqID: frame.ID, shape: ErrorShape{
			Code:    CodeProtocol,
			Message: fmt.Sprintf("expected connect request, got %s %s", frame.Type, frame.Method),
		}}
	}
	if err := frame.DecodeParams(&params); err != nil {
		return "", params, &handshakeError{reqID: frame.ID, shape: ErrorShape{Code: CodeInvalidParams, Message: err.Error()}}
	}
	if !params.Supports(ProtocolVersion) {
		return "", params, &handshakeError{reqID: frame.ID, shape: ErrorShape{
			Code:    CodeUnsupported,
			Message: fmt.Sprintf("client speaks %d-%d, server speaks %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion),
		}}
	}
	return frame.ID, params, nil
}

func (s *Server) hello(connID string) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.build.Version,
			Commit:  s.build.Commit,
			ConnID:  connID,
		},
		Features: Features{Methods: s.Methods(), Events: serverEvents},
		Policy: ServerPolicy{
			MaxPayload:     maxPayload,
			TickIntervalMs: int(s.tick.Milliseconds()),
		},
	}
}

// rejectAndClose tells the peer why the handshake failed and closes the
// WebSocket cleanly.
func rejectAndClose(conn *websocket.Conn, he *handshakeError) {
	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(NewErrorResponse(he.reqID, he.shape))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, he.shape.Code), deadline)
}

// serveFrames reads request frames until the connection fails. Handlers
// run on this goroutine; turn handlers hand their streaming off to their
// own goroutine so later frames are not held up.
func (s *Server) serveFrames(ctx context.Context, client *Client) {
	log := s.log.With("connId", client.ConnID)
	for {
		frame, err := client.ReadFrame()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			log.Debug().Msg("client closed connection")
			return
		case err != nil:
			log.Debug().Err(err).Msg("connection ended")
			return
		case frame.Type != FrameTypeRequest:
			log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		handler, ok := s.handlers[frame.Method]
		if !ok {
			client.RespondError(frame.ID, ErrorShape{
				Code:    CodeMethodNotFound,
				Message: "unknown method: " + frame.Method,
			})
			continue
		}
		handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
	}
}

func (s *Server) nextSeq() int64 {
	return s.eventSeq.Add(1)
}
