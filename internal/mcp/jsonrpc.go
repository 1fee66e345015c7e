// ABOUTME: JSON-RPC 2.0 wire types for MCP requests and responses.
// ABOUTME: Decoding, response constructors and the initialize-shape probe.

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONRPCVersion is the only protocol tag accepted and emitted.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Request is a decoded JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carried no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response carries exactly one of Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// DecodeRequest parses a single JSON-RPC request. The method is required and
// jsonrpc, when present, must be "2.0".
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after request object")
	}
	if req.Method == "" {
		return nil, errors.New("missing method")
	}
	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}
	return &req, nil
}

// NewResultResponse encodes result into a response for id. An unencodable
// result becomes an internal error response.
func NewResultResponse(id json.RawMessage, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, JSONRPCInternalError, fmt.Sprintf("Internal error: %v", err))
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// IsInitializeResult reports whether resp is a successful initialize result,
// judged only by the presence of protocolVersion in the result object.
func IsInitializeResult(resp *Response) bool {
	if resp == nil || resp.Error != nil || len(resp.Result) == 0 {
		return false
	}
	var probe struct {
		ProtocolVersion *string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(resp.Result, &probe); err != nil {
		return false
	}
	return probe.ProtocolVersion != nil
}
