// Package jsonrpc provides the JSON-RPC 2.0 message model and the two
// stream framings used by this runtime: LSP framing (Content-Length
// headers, used by the upstream language server and LSP bridge servers)
// and MCP framing (newline-delimited, used by MCP tool servers).
package jsonrpc

import (
	"encoding/json"
	"errors"
)

// Version is the JSON-RPC protocol version sent on every message.
const Version = "2.0"

// Kind classifies a decoded message by the presence of its id and method
// fields.
type Kind int

// Message kinds.
const (
	// KindResponse carries an id but no method: a reply to a request we sent.
	KindResponse Kind = iota
	// KindRequest carries both id and method: a server-initiated request
	// that expects a response from us.
	KindRequest
	// KindNotification carries only a method.
	KindNotification
)

// ErrMalformed indicates a frame that decoded as JSON but is not a usable
// JSON-RPC message.
var ErrMalformed = errors.New("malformed JSON-RPC message")

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is a JSON-RPC 2.0 message: request, response, or notification.
// ID is a pointer so that absence (notification) is distinguishable from
// id zero.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies the message.
func (m *Message) Kind() Kind {
	switch {
	case m.ID != nil && m.Method == "":
		return KindResponse
	case m.ID != nil:
		return KindRequest
	default:
		return KindNotification
	}
}

// NewRequest builds a request message with the given id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id, no response expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a response to a server-initiated request.
func NewResponse(id int64, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response to a server-initiated request.
func NewErrorResponse(id int64, code int, message string) *Message {
	return &Message{JSONRPC: Version, ID: &id, Error: &Error{Code: code, Message: message}}
}

// UnmarshalParams decodes the message params into v. A message without
// params leaves v untouched.
func (m *Message) UnmarshalParams(v any) error {
	if len(m.Params) == 0 {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult decodes the message result into v. A message without a
// result leaves v untouched.
func (m *Message) UnmarshalResult(v any) error {
	if len(m.Result) == 0 {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
