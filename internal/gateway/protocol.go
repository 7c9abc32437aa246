package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/kaggler/internal/agent"
)

// ProtocolVersion is the only protocol revision this server speaks.
const ProtocolVersion = 1

// maxPayload bounds a single inbound frame.
const maxPayload = 4 << 20

// tickInterval is how often the server pings each connection. Clients
// learn it from HelloOK.Policy.TickIntervalMs.
const tickInterval = 30 * time.Second

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC methods served over /ws.
const (
	MethodConnect          = "connect"
	MethodHealth           = "health"
	MethodTurnSubmit       = "turn.submit"
	MethodTopicReset       = "topic.reset"
	MethodTopicList        = "topic.list"
	MethodSnapshotGet      = "snapshot.get"
	MethodTranscriptSearch = "transcript.search"
)

// Events pushed to clients.
const (
	EventChallenge  = "connect.challenge"
	EventTurnChunk  = "turn.chunk"  // one streamed piece of a running turn
	EventTopicReset = "topic.reset" // broadcast after any client resets a topic
)

// serverEvents is advertised in HelloOK.
var serverEvents = []string{EventChallenge, EventTurnChunk, EventTopicReset}

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol       = "protocol_error"
	CodeMethodNotFound = "method_not_found"
	CodeInvalidParams  = "invalid_params"
	CodeNotFound       = "not_found"
	CodeUnsupported    = "unsupported_protocol"
	CodeTurnFailed     = "turn_failed"
	CodeBusy           = "busy"
	CodeInternal       = "internal_error"
)

// Frame is the base envelope for all WebSocket messages.
// The Type field discriminates between request, response, and event frames.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	// Error (response only)
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the standard error format in response frames.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ConnectParams are sent by the client in the initial "connect" request.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

// HelloOK is the server's response payload to a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

// ServerInfo identifies the gateway server.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises available RPC methods and events.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates protocol limits to the client.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      &ok,
		Payload: raw,
	}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, errShape ErrorShape) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &errShape,
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
		Seq:     seq,
	}, nil
}

// Supports reports whether the client's protocol range includes
// ProtocolVersion. A zero MaxProtocol means no upper bound.
func (p ConnectParams) Supports(version int) bool {
	if p.MinProtocol > version {
		return false
	}
	return p.MaxProtocol == 0 || p.MaxProtocol >= version
}

// TurnChunk is the payload of a turn.chunk event.
type TurnChunk struct {
	RequestID string          `json:"requestId"`
	Event     agent.TurnEvent `json:"event"`
}

// TopicResetNotice is the payload of a topic.reset event.
type TopicResetNotice struct {
	TopicID       string `json:"topicId"`
	SessionHandle string `json:"sessionHandle"`
}

// DecodeParams unmarshals a request frame's params. Missing params leave
// target untouched.
func (f Frame) DecodeParams(target any) error {
	if len(f.Params) == 0 || string(f.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Params, target); err != nil {
		return fmt.Errorf("invalid params for %s: %w", f.Method, err)
	}
	return nil
}
