// Package session tracks MCP sessions for the HTTP transport.
//
// A session is created by an initialize request and identified by the value of
// the mcp-session-id header. Each record holds its creation time, last
// activity time and whether the initialize handshake completed. A session is
// usable while now - lastActivity <= TTL.
//
// Expiry is checked lazily by Validate and reclaimed eagerly by Sweep, which
// the Manager runs on a fixed interval between Start and Close. Close waits for
// the sweeper goroutine to exit.
package session
