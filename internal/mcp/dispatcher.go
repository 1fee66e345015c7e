// ABOUTME: Transport-agnostic MCP method dispatcher over a single Backend.
// ABOUTME: Handles the initialize handshake, tools/list and tools/call.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Method names
const (
	MethodInitialize              = "initialize"
	MethodInitialized             = "initialized"
	MethodNotificationInitialized = "notifications/initialized"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
)

// DefaultProtocolVersion is advertised when the client asks for a version we
// do not know.
const DefaultProtocolVersion = "2024-11-05"

var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// Tool call outcomes reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// Observer receives counters from the dispatcher and HTTP server.
type Observer interface {
	RPCRequest(method string)
	ToolCall(tool, outcome string)
	HTTPRequest(method string, code int)
}

type noopObserver struct{}

func (noopObserver) RPCRequest(string)       {}
func (noopObserver) ToolCall(string, string) {}
func (noopObserver) HTTPRequest(string, int) {}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Backend  Backend
	Logger   *slog.Logger
	Observer Observer
}

// Dispatcher maps requests to backend operations. It holds no per-session
// state and is safe for concurrent use if the Backend is.
type Dispatcher struct {
	backend  Backend
	logger   *slog.Logger
	observer Observer
}

// NewDispatcher creates a Dispatcher for cfg.Backend.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Dispatcher{
		backend:  cfg.Backend,
		logger:   logger,
		observer: observer,
	}, nil
}

// Backend returns the backend being served.
func (d *Dispatcher) Backend() Backend {
	return d.backend
}

// Handle processes one request. It returns nil for notifications, which must
// not be answered.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	d.observer.RPCRequest(req.Method)
	d.logger.Debug("mcp request", "method", req.Method, "notification", req.IsNotification())

	switch req.Method {
	case MethodInitialize:
		return d.initialize(req)
	case MethodInitialized, MethodNotificationInitialized:
		return nil
	case MethodToolsList:
		return NewResultResponse(req.ID, ListToolsResult{Tools: d.tools()})
	case MethodToolsCall:
		return d.callTool(ctx, req)
	}

	if req.IsNotification() && strings.HasPrefix(req.Method, "notifications/") {
		d.logger.Debug("ignoring notification", "method", req.Method)
		return nil
	}
	return NewErrorResponse(req.ID, JSONRPCMethodNotFound, "Method not found: "+req.Method)
}

func (d *Dispatcher) initialize(req *Request) *Response {
	version := DefaultProtocolVersion

	var params InitializeParams
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil {
		if supportedProtocolVersions[params.ProtocolVersion] {
			version = params.ProtocolVersion
		}
		if params.ClientInfo != nil {
			d.logger.Info("client initialized",
				"client", params.ClientInfo.Name,
				"client_version", params.ClientInfo.Version,
				"protocol_version", version,
			)
		}
	}

	return NewResultResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo: Implementation{
			Name:    d.backend.Name(),
			Version: d.backend.Version(),
		},
	})
}

func (d *Dispatcher) tools() []Tool {
	tools := d.backend.Tools()
	if tools == nil {
		tools = []Tool{}
	}
	return tools
}

func (d *Dispatcher) callTool(ctx context.Context, req *Request) *Response {
	name, args, err := parseCallParams(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, JSONRPCInvalidParams, "Invalid params: "+err.Error())
	}

	if !d.hasTool(name) {
		d.observer.ToolCall("unknown", OutcomeToolError)
		return NewResultResponse(req.ID, ErrorResult("Unknown tool: %s", name))
	}

	result, err := d.backend.CallTool(ctx, name, args)
	if err != nil {
		d.observer.ToolCall(name, OutcomeError)
		d.logger.Warn("tool execution failed", "tool_name", name, "error", err)
		return NewErrorResponse(req.ID, JSONRPCInternalError, fmt.Sprintf("Internal error: %v", err))
	}
	if result == nil {
		result = TextResult("")
	}

	outcome := OutcomeOK
	if result.IsError {
		outcome = OutcomeToolError
	}
	d.observer.ToolCall(name, outcome)
	d.logger.Debug("tools/call complete", "tool_name", name, "is_error", result.IsError)

	return NewResultResponse(req.ID, result)
}

func (d *Dispatcher) hasTool(name string) bool {
	for _, t := range d.backend.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// parseCallParams extracts the tool name and object arguments. Absent
// arguments become an empty object.
func parseCallParams(raw json.RawMessage) (string, json.RawMessage, error) {
	if len(raw) == 0 {
		return "", nil, errors.New("missing tool name")
	}

	var params struct {
		Name      json.RawMessage `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", nil, errors.New("params must be an object")
	}

	var name string
	if len(params.Name) == 0 || json.Unmarshal(params.Name, &name) != nil || name == "" {
		return "", nil, errors.New("missing tool name")
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		return name, json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return "", nil, errors.New("arguments must be an object")
	}
	return name, args, nil
}
