// Package mcp implements the Model Context Protocol runtime shared by every
// mcpz backend.
//
// # Overview
//
// MCP is JSON-RPC 2.0 with a fixed method set. A Backend supplies a name, a
// version and a set of tools; the Dispatcher turns decoded requests into
// lifecycle results and tool invocations against that Backend. Two transports
// bind the Dispatcher to the outside world:
//
//   - ServeStdio reads one request per line and writes one response per line.
//     It has no session concept.
//   - Server exposes POST, GET and DELETE on /mcp (Streamable HTTP) and gates
//     every request after initialize on the mcp-session-id header.
//
// # Methods
//
//	initialize                  -> {protocolVersion, capabilities, serverInfo}
//	initialized                 -> no response
//	notifications/initialized   -> no response
//	tools/list                  -> {tools: [...]}
//	tools/call {name,arguments} -> {content: [...], isError?}
//
// Anything else is answered with -32601 "Method not found: <method>".
//
// # Tool call
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "read_file",
//	    "arguments": {"path": "/srv/data/notes.txt"}
//	  },
//	  "id": 2
//	}
//
// A missing or non-string name, or arguments that are not an object, is a
// protocol error (-32602). An unknown tool, a missing argument or a sandbox
// refusal is a successful response whose result carries isError: true, so
// clients can tell a malformed call from a refused one.
//
// # HTTP status codes
//
//   - 200: JSON-RPC response body
//   - 202: notification accepted, empty body
//   - 400: undecodable body or missing mcp-session-id
//   - 403: Origin rejected
//   - 404: unknown or expired session
//   - 500: response encoding failure
//
// The GET stream never carries data; it only emits ": ping" comments on the
// keep-alive interval until the client goes away or the server closes.
//
// # Origin policy
//
// Requests without an Origin header pass. http(s)://localhost* and
// http(s)://127.0.0.1* always pass. Anything else must appear in the
// configured allow-list, or the list must contain "*".
package mcp
