// Package rpctypes defines the JSON-RPC envelope and client metadata shared
// by every stage of the request pipeline.
package rpctypes

import (
	"encoding/json"
	"time"
)

// ClientInfo carries everything the pipeline knows about the caller before
// any upstream call is made.
type ClientInfo struct {
	IP        string
	UserAgent string
	AuthToken string
	Timestamp time.Time
}

// RpcRequest is the parsed, strongly typed form of an inbound JSON-RPC
// envelope. Params is kept as raw JSON and interpreted by the validator
// against the method's parameter rules — either a JSON array (positional)
// or a JSON object (keyed).
type RpcRequest struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	ID         json.RawMessage `json:"id,omitempty"`
	ClientInfo ClientInfo      `json:"-"`
}

// RpcError is the JSON-RPC 2.0 error object.
type RpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RpcResponse is the JSON-RPC 2.0 response envelope. Exactly one of Result
// or Error is set.
type RpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// NewResult builds a successful response envelope.
func NewResult(id json.RawMessage, result interface{}) *RpcResponse {
	return &RpcResponse{JSONRPC: "2.0", Result: result, ID: id}
}

// NewError builds an error response envelope.
func NewError(id json.RawMessage, code int, message string, data interface{}) *RpcResponse {
	return &RpcResponse{JSONRPC: "2.0", Error: &RpcError{Code: code, Message: message, Data: data}, ID: id}
}

// ParamsKind describes the shape parameters were submitted in.
type ParamsKind int

const (
	// ParamsNone means no parameters were supplied at all.
	ParamsNone ParamsKind = iota
	// ParamsPositional means parameters arrived as a JSON array.
	ParamsPositional
	// ParamsKeyed means parameters arrived as a JSON object.
	ParamsKeyed
)

// Kind inspects the raw params and reports their shape without fully
// decoding them.
func (r *RpcRequest) Kind() ParamsKind {
	raw := trimSpace(r.Params)
	if len(raw) == 0 {
		return ParamsNone
	}
	switch raw[0] {
	case '[':
		return ParamsPositional
	case '{':
		return ParamsKeyed
	default:
		return ParamsNone
	}
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t' || b[start] == '\n' || b[start] == '\r') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

// PositionalParams decodes Params as a JSON array. Returns nil, nil if
// params are absent.
func (r *RpcRequest) PositionalParams() ([]json.RawMessage, error) {
	if r.Kind() != ParamsPositional {
		return nil, nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal(r.Params, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// KeyedParams decodes Params as a JSON object. Returns nil, nil if params
// are absent.
func (r *RpcRequest) KeyedParams() (map[string]json.RawMessage, error) {
	if r.Kind() != ParamsKeyed {
		return nil, nil
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(r.Params, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// CanonicalJSON re-marshals an arbitrary JSON value with object keys sorted
// and insignificant whitespace removed, so that two semantically identical
// payloads produce byte-identical output regardless of original key order.
// encoding/json already marshals map[string]interface{} with sorted keys;
// the only work here is decoding through that representation.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(trimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
