// Package jsonrpc implements the small slice of JSON-RPC 2.0 framing used by
// the tool host: request/response envelopes with string ids, encoded as one
// compact JSON document per line. It deliberately does not implement batching
// or notifications; the upstream servers this host speaks to use neither.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on every outbound envelope.
const Version = "2.0"

// Method names understood by the servers this host manages.
const (
	MethodInitialize    = "initialize"
	MethodListTools     = "tools/list"
	MethodListPrompts   = "prompts/list"
	MethodListResources = "resources/list"
	MethodCallTool      = "tools/call"
)

// Request is an outbound JSON-RPC request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewRequest builds a request with a fresh unique id. A nil params value is
// normalized to an empty object so the wire form always carries "params": {}.
func NewRequest(method string, params any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{JSONRPC: Version, ID: NewID(), Method: method, Params: params}
}

// NewID returns a unique string request id.
func NewID() string {
	return uuid.NewString()
}

// CallParams is the params shape of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// InitializeParams is the params shape of the stdio initialize handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo identifies this host to the remote server during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Message is an inbound envelope. Result and Error are kept raw so callers
// can decide how deep to decode; either may be absent.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// HasResult reports whether the envelope carried a result key, including an
// explicit null.
func (m *Message) HasResult() bool { return m != nil && m.Result != nil }

// HasError reports whether the envelope carried an error key.
func (m *Message) HasError() bool { return m != nil && m.Error != nil }

// EncodeLine serializes v as one compact JSON document followed by a newline,
// the framing used on a stdio transport's stdin.
func EncodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("jsonrpc: encode: %w", err)
	}
	// json.Encoder already appends the trailing newline.
	return buf.Bytes(), nil
}

// DecodeMessage parses one line from a transport into a Message. Ids that
// arrive as JSON numbers are normalized to their decimal string form so that
// correlation against string request ids still works.
func DecodeMessage(line []byte) (*Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("jsonrpc: decode: %w", err)
	}
	msg := &Message{JSONRPC: probe.JSONRPC, Result: probe.Result, Error: probe.Error}
	if len(probe.ID) > 0 {
		var s string
		if err := json.Unmarshal(probe.ID, &s); err == nil {
			msg.ID = s
		} else {
			msg.ID = string(bytes.TrimSpace(probe.ID))
		}
	}
	return msg, nil
}
