// Package codec converts conversation messages and orchestration state to
// portable JSON-compatible records and back.
//
// Every record carries an explicit discriminator (_kind) plus a class-name
// tag (_className). Both use underscore-prefixed names so an ambient "type"
// or "role" field set by some other layer can never overwrite them. Decoding
// branches on _kind first, then on the class-name hint, then on the namespace
// hint, and only then on legacy type/role fields. Records that match nothing
// decode to a UserMessage and a warning is logged.
//
// An assistant message with an empty, non-nil ToolCalls slice decodes with
// ToolCalls nil; both mean the message requests no tools.
package codec

import (
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
)

// Field names written by Encode.
const (
	FieldKind      = "_kind"
	FieldClassName = "_className"
	FieldNamespace = "lc_namespace"
)

// Class names written into the _className tag, one per variant.
const (
	ClassUser      = "HumanMessage"
	ClassAssistant = "AIMessage"
	ClassTool      = "ToolMessage"
	ClassSystem    = "SystemMessage"
)

// Namespace is the namespace hint written with every record.
var Namespace = []string{"kaggler", "schema", "messages"}

// Record is the portable form of a domain.Message.
type Record struct {
	Kind       domain.Kind      `json:"_kind"`
	ClassName  string           `json:"_className"`
	Namespace  []string         `json:"lc_namespace,omitempty"`
	ID         string           `json:"id"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// ToolCallRecord is the portable form of a domain.ToolCall.
type ToolCallRecord struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Codec encodes and decodes messages. Its only dependency is the logger used
// to report ambiguous records.
type Codec struct {
	log *logging.Logger
}

// New creates a Codec. A nil logger discards warnings.
func New(log *logging.Logger) *Codec {
	if log == nil {
		log = logging.Nop()
	}
	return &Codec{log: log.Sub("codec")}
}

var classByKind = map[domain.Kind]string{
	domain.KindUser:      ClassUser,
	domain.KindAssistant: ClassAssistant,
	domain.KindTool:      ClassTool,
	domain.KindSystem:    ClassSystem,
}

// Encode converts a message to its portable record.
func (c *Codec) Encode(m domain.Message) Record {
	rec := Record{
		Kind:      m.Kind(),
		ClassName: classByKind[m.Kind()],
		Namespace: Namespace,
		ID:        m.MessageID(),
		Content:   domain.Text(m),
	}
	switch v := m.(type) {
	case domain.AssistantMessage:
		for _, tc := range v.ToolCalls {
			rec.ToolCalls = append(rec.ToolCalls, ToolCallRecord{ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}
	case domain.ToolResultMessage:
		rec.ToolCallID = v.ToolCallID
		rec.Name = v.ToolName
	}
	return rec
}

// EncodeAll encodes a message slice.
func (c *Codec) EncodeAll(msgs []domain.Message) []Record {
	out := make([]Record, len(msgs))
	for i, m := range msgs {
		out[i] = c.Encode(m)
	}
	return out
}

// Decode reconstructs the message a record describes. When the record's
// discriminator is missing or unknown, the class-name and namespace hints
// are consulted; if nothing matches the record becomes a UserMessage.
func (c *Codec) Decode(r Record) domain.Message {
	kind, ok := kindFromTag(string(r.Kind))
	if !ok {
		kind, ok = kindFromClass(r.ClassName)
	}
	if !ok && len(r.Namespace) > 0 {
		kind, ok = kindFromClass(r.Namespace[len(r.Namespace)-1])
	}
	if !ok {
		c.warnFallback(r.ID, string(r.Kind), r.ClassName)
		kind = domain.KindUser
	}
	return build(kind, r)
}

func (c *Codec) warnFallback(id, kind, class string) {
	c.log.Warn().
		Str("id", id).
		Str("kind", kind).
		Str("className", class).
		Msg("unrecognised message record, decoding as user message")
}

func build(kind domain.Kind, r Record) domain.Message {
	switch kind {
	case domain.KindAssistant:
		am := domain.AssistantMessage{ID: r.ID, Text: r.Content}
		for _, tc := range r.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, domain.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}
		return am
	case domain.KindTool:
		return domain.ToolResultMessage{ID: r.ID, ToolCallID: r.ToolCallID, ToolName: r.Name, Content: r.Content}
	case domain.KindSystem:
		return domain.SystemMessage{ID: r.ID, Text: r.Content}
	default:
		return domain.UserMessage{ID: r.ID, Text: r.Content}
	}
}

func kindFromTag(tag string) (domain.Kind, bool) {
	switch tag {
	case "user", "human":
		return domain.KindUser, true
	case "assistant", "ai":
		return domain.KindAssistant, true
	case "tool", "function":
		return domain.KindTool, true
	case "system":
		return domain.KindSystem, true
	}
	return "", false
}

func kindFromClass(class string) (domain.Kind, bool) {
	switch class {
	case ClassUser, "HumanMessageChunk", "UserMessage":
		return domain.KindUser, true
	case ClassAssistant, "AIMessageChunk", "AssistantMessage":
		return domain.KindAssistant, true
	case ClassTool, "ToolMessageChunk", "ToolResultMessage", "FunctionMessage":
		return domain.KindTool, true
	case ClassSystem, "SystemMessageChunk":
		return domain.KindSystem, true
	}
	return "", false
}
