// ABOUTME: MCP payload types and the Backend interface implemented by tool providers.
// ABOUTME: Helpers build text and error tool results.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend provides the tools served by one mcpz server.
type Backend interface {
	Name() string
	Version() string
	Tools() []Tool

	// CallTool runs a tool listed by Tools. args is always a JSON object.
	// Policy refusals and bad arguments are returned as an ErrorResult with a
	// nil error; a non-nil error means the call could not be handled at all.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error)
}

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is a single content item in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InitializeParams are the client-supplied initialize params we read.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    map[string]any  `json:"capabilities,omitempty"`
	ClientInfo      *Implementation `json:"clientInfo,omitempty"`
}

// InitializeResult is the result for initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// ServerCapabilities advertises server features. Only tools are supported.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability encodes as an empty object.
type ToolsCapability struct{}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TextResult wraps text as a successful tool result.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult is a tool-level failure with an "Error: " prefixed message.
func ErrorResult(format string, args ...any) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: "Error: " + fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// DecodeArguments unmarshals tool arguments into v.
func DecodeArguments(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
