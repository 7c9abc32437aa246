// Package mcpserver exposes topic conversations as MCP tools, over stdio or
// streamable HTTP, so coding assistants can hold a Kaggler conversation.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/store"
	"github.com/soyeahso/kaggler/internal/version"
)

// Service is the part of agent.Service the tools call.
type Service interface {
	SubmitTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
	ResetTopic(ctx context.Context, topic string) (string, error)
	ExportSnapshot(ctx context.Context, topic string) (session.SnapshotRecord, error)
	ListTopics(ctx context.Context) ([]domain.SnapshotInfo, error)
	Search(ctx context.Context, query, topic string, limit int) ([]store.TranscriptEntry, error)
}

const instructions = `Kaggler answers questions about data-science competitions.
Each conversation belongs to a topic (a competition id such as "titanic").
Use submit_turn to ask a question; the topic remembers earlier turns.
Use reset_topic to start over, get_snapshot to inspect the stored
conversation, list_topics to see known topics and search_transcripts to
find earlier messages.`

// New builds the MCP server with every tool registered.
func New(svc Service, log *logging.Logger) *server.MCPServer {
	log = log.Sub("mcp")

	s := server.NewMCPServer(
		"kaggler",
		version.Get().Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	submit := NewSubmitTurnTool(svc, log)
	s.AddTool(submit.Definition(), submit.Handle)

	reset := NewResetTopicTool(svc, log)
	s.AddTool(reset.Definition(), reset.Handle)

	snapshot := NewSnapshotTool(svc)
	s.AddTool(snapshot.Definition(), snapshot.Handle)

	list := NewListTopicsTool(svc)
	s.AddTool(list.Definition(), list.Handle)

	search := NewSearchTool(svc)
	s.AddTool(search.Definition(), search.Handle)

	return s
}

// HTTPHandler serves the same tools over MCP's streamable HTTP transport,
// for mounting inside the gateway.
func HTTPHandler(svc Service, log *logging.Logger) http.Handler {
	return server.NewStreamableHTTPServer(New(svc, log))
}

// Serve runs the server on stdin/stdout until the input closes.
func Serve(svc Service, log *logging.Logger) error {
	log.Info().Msg("serving MCP over stdio")
	return server.ServeStdio(New(svc, log))
}
