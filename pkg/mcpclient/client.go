package mcpclient

import (
	"context"
	"encoding/json"
)

// ToolClient is the capability contract shared by both transports. Transport
// choice is an implementation detail selected by the server entry's type.
type ToolClient interface {
	ListTools(ctx context.Context) ToolListPage
	ListPrompts(ctx context.Context) PromptListPage
	ListResources(ctx context.Context) ResourceListPage
	CallTool(ctx context.Context, name string, args map[string]any) CallOutcome
	Ping(ctx context.Context) bool
	Close() error
}

// FlatParam is the alternate flat parameter representation some servers use
// instead of a JSON schema.
type FlatParam struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ToolDescriptor describes one remotely defined tool. It is sourced from the
// server and read-only here; InputSchema stays raw so the aggregation layer
// can decode it as deeply as the guide rendering needs.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Note        string          `json:"note,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Parameters  []FlatParam     `json:"parameters,omitempty"`
	Args        []FlatParam     `json:"args,omitempty"`
}

// Prompt is a remotely defined prompt template.
type Prompt struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
}

// Resource is a remotely defined resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ToolListPage is the result of a tools/list call. On failure Tools is empty,
// RemoteEnabled still reflects the client's configuration, and Diagnostic
// carries the failure detail as data rather than an error.
type ToolListPage struct {
	Tools         []ToolDescriptor `json:"tools"`
	RemoteEnabled bool             `json:"remote_enabled"`
	Diagnostic    string           `json:"-"`
}

// PromptListPage is the result of a prompts/list call.
type PromptListPage struct {
	Prompts       []Prompt `json:"prompts"`
	RemoteEnabled bool     `json:"remote_enabled"`
	Diagnostic    string   `json:"-"`
}

// ResourceListPage is the result of a resources/list call.
type ResourceListPage struct {
	Resources     []Resource `json:"resources"`
	RemoteEnabled bool       `json:"remote_enabled"`
	Diagnostic    string     `json:"-"`
}

// CallOutcome is the result of a tools/call. A nil Result means "no usable
// result"; Diagnostic distinguishes a remote failure from a genuinely empty
// answer for callers that care.
type CallOutcome struct {
	Result     json.RawMessage
	Diagnostic string
}

// OK reports whether the call produced a usable result.
func (o CallOutcome) OK() bool { return o.Result != nil }

// unwrapCallResult applies the tools/call result convention: when the result
// object carries a non-empty inner "data" field, that field is the payload,
// otherwise the result itself is. Empty containers and strings degrade to
// nil like a missing result; scalar values, including 0 and false, still
// count as usable payloads.
func unwrapCallResult(result json.RawMessage) json.RawMessage {
	if emptyPayload(result) {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(result, &envelope); err == nil && !emptyPayload(envelope.Data) {
		return envelope.Data
	}
	return result
}

func emptyPayload(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}
