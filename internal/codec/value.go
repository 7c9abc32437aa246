package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/kaggler/internal/domain"
)

// DecodeJSON decodes one JSON-encoded message record. Only malformed JSON is
// an error; records that lost their discriminator are reconstructed from
// whatever hints remain.
func (c *Codec) DecodeJSON(data []byte) (domain.Message, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding message record: %w", err)
	}
	return c.DecodeValue(raw), nil
}

// DecodeValue reconstructs a message from a value of unknown shape: a
// domain.Message (returned as is), a Record, or a generic map such as the
// output of json.Unmarshal into any. Maps written by other serializers are
// supported as long as they carry a class name, a namespace path, or a
// type/role field.
func (c *Codec) DecodeValue(v any) domain.Message {
	switch x := v.(type) {
	case domain.Message:
		return x
	case Record:
		return c.Decode(x)
	case *Record:
		if x != nil {
			return c.Decode(*x)
		}
	case json.RawMessage:
		if m, err := c.DecodeJSON(x); err == nil {
			return m
		}
	case map[string]any:
		return c.decodeMap(x)
	case string:
		return domain.UserMessage{ID: domain.NewID(), Text: x}
	}
	c.warnFallback("", fmt.Sprintf("%T", v), "")
	return domain.UserMessage{ID: domain.NewID(), Text: fmt.Sprint(v)}
}

func (c *Codec) decodeMap(m map[string]any) domain.Message {
	fields := m
	// Constructor-style serializations keep the payload under "kwargs",
	// dict-style ones under "data".
	for _, key := range []string{"kwargs", "data"} {
		if nested, ok := m[key].(map[string]any); ok {
			fields = nested
			break
		}
	}

	kind, ok := kindFromTag(str(m, FieldKind))
	if !ok {
		kind, ok = kindFromClass(str(m, FieldClassName))
	}
	if !ok {
		kind, ok = kindFromPath(m[FieldNamespace])
	}
	if !ok {
		kind, ok = kindFromPath(m["id"])
	}
	if !ok {
		for _, key := range []string{"_type", "type", "role"} {
			if kind, ok = kindFromTag(strings.ToLower(str(m, key))); ok {
				break
			}
			if kind, ok = kindFromTag(strings.ToLower(str(fields, key))); ok {
				break
			}
		}
	}

	rec := Record{
		ID:         firstString(fields, "id"),
		Content:    content(fields),
		ToolCallID: firstString(fields, "tool_call_id", "toolCallId"),
		Name:       firstString(fields, "name", "toolName"),
		ToolCalls:  toolCalls(fields),
	}
	if !ok {
		c.warnFallback(rec.ID, str(m, FieldKind), str(m, FieldClassName))
		kind = domain.KindUser
	}
	// Records this codec wrote keep their ID as is, even when empty. Foreign
	// records without one get a fresh ID.
	if _, own := kindFromTag(str(m, FieldKind)); !own && rec.ID == "" {
		rec.ID = domain.NewID()
	}
	return build(kind, rec)
}

// kindFromPath inspects the last element of a namespace or constructor path
// such as ["langchain_core", "messages", "AIMessage"].
func kindFromPath(v any) (domain.Kind, bool) {
	path, ok := v.([]any)
	if !ok || len(path) == 0 {
		return "", false
	}
	last, _ := path[len(path)-1].(string)
	return kindFromClass(last)
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

// content accepts plain strings and content-part arrays of the form
// [{"type":"text","text":"..."}].
func content(m map[string]any) string {
	for _, key := range []string{"content", "text"} {
		switch v := m[key].(type) {
		case string:
			return v
		case []any:
			var b strings.Builder
			for _, part := range v {
				switch p := part.(type) {
				case string:
					b.WriteString(p)
				case map[string]any:
					b.WriteString(str(p, "text"))
				}
			}
			return b.String()
		}
	}
	return ""
}

func toolCalls(m map[string]any) []ToolCallRecord {
	raw, ok := m["tool_calls"].([]any)
	if !ok {
		raw, ok = m["toolCalls"].([]any)
	}
	if !ok {
		if extra, isMap := m["additional_kwargs"].(map[string]any); isMap {
			raw, _ = extra["tool_calls"].([]any)
		}
	}

	var out []ToolCallRecord
	for _, item := range raw {
		tc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := ToolCallRecord{ID: str(tc, "id"), Name: str(tc, "name"), Args: args(tc)}
		// OpenAI style: {"id":..., "function": {"name":..., "arguments": "{...}"}}
		if fn, ok := tc["function"].(map[string]any); ok {
			if rec.Name == "" {
				rec.Name = str(fn, "name")
			}
			if rec.Args == nil {
				rec.Args = args(fn)
			}
		}
		out = append(out, rec)
	}
	return out
}

func args(m map[string]any) map[string]any {
	for _, key := range []string{"args", "input", "arguments"} {
		switch v := m[key].(type) {
		case map[string]any:
			return v
		case string:
			var parsed map[string]any
			if json.Unmarshal([]byte(v), &parsed) == nil {
				return parsed
			}
		}
	}
	return nil
}
