// Package gateway runs one mcpz backend over a transport.
//
// # Overview
//
// The Gateway struct owns every component of the HTTP transport:
//
//	type Gateway struct {
//	    config     *config.Config
//	    backend    mcp.Backend
//	    sessions   *session.Manager
//	    mcpServer  *mcp.Server
//	    metrics    *metrics.Recorder   // nil unless metrics.enabled
//	    httpServer *http.Server
//	    identity   *tlsutil.Identity   // nil unless server.tls.enabled
//	}
//
// RunStdio serves the same backend over stdin/stdout without sessions.
//
// # Routes
//
//	POST/GET/DELETE /mcp   MCP streamable HTTP (origin-checked, session-gated)
//	GET /health            liveness, always "OK"
//	GET <metrics.path>     Prometheus exposition when metrics are enabled
//
// # Lifecycle
//
// Run binds the listener, starts the session sweeper and serves until the
// context is canceled. Shutdown then proceeds in a fixed order:
//
//  1. End open GET event streams
//  2. http.Server.Shutdown with a 5s deadline
//  3. Stop the session sweeper and wait for it
//  4. Close the backend if it implements io.Closer
//
// Binding to a non-loopback address logs security warnings, plus one more
// when TLS is disabled.
package gateway
