// ABOUTME: Streamable HTTP transport for MCP: POST, GET and DELETE on /mcp.
// ABOUTME: Enforces the Origin policy and gates requests on the mcp-session-id header.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/mcpz/internal/session"
)

// SessionIDHeader carries the session id in both directions.
const SessionIDHeader = "mcp-session-id"

// ProtocolVersionHeader is optionally sent by clients after initialize.
const ProtocolVersionHeader = "MCP-Protocol-Version"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultKeepAliveInterval is the ping period on GET streams.
const DefaultKeepAliveInterval = 30 * time.Second

// Path is the single MCP endpoint.
const Path = "/mcp"

// Config holds configuration for the HTTP server.
type Config struct {
	Dispatcher        *Dispatcher
	Sessions          *session.Manager
	AllowedOrigins    []string
	KeepAliveInterval time.Duration
	Logger            *slog.Logger
	Observer          Observer
}

// Server implements the MCP Streamable HTTP endpoints.
type Server struct {
	dispatcher     *Dispatcher
	sessions       *session.Manager
	allowedOrigins []string
	keepAlive      time.Duration
	logger         *slog.Logger
	observer       Observer

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new MCP HTTP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	keepAlive := cfg.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAliveInterval
	}

	origins := make([]string, len(cfg.AllowedOrigins))
	copy(origins, cfg.AllowedOrigins)

	return &Server{
		dispatcher:     cfg.Dispatcher,
		sessions:       cfg.Sessions,
		allowedOrigins: origins,
		keepAlive:      keepAlive,
		logger:         logger,
		observer:       observer,
		done:           make(chan struct{}),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(Path, s.handleMCP)
}

// Close ends all open GET streams. It is safe to call multiple times.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	defer func() { s.observer.HTTPRequest(r.Method, rec.code) }()

	if !RequestOriginAllowed(r.Header, s.allowedOrigins) {
		s.logger.Warn("rejected origin", "origin", r.Header.Get("Origin"), "method", r.Method)
		http.Error(rec, "Forbidden: origin not allowed", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(rec, r)
	case http.MethodGet:
		s.handleGet(rec, r)
	case http.MethodDelete:
		s.handleDelete(rec, r)
	default:
		rec.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(rec, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost processes one JSON-RPC message.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get(ProtocolVersionHeader); v != "" && !supportedProtocolVersions[v] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "Bad Request: failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxRequestBodySize {
		http.Error(w, "Bad Request: request body too large", http.StatusBadRequest)
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		s.logger.Debug("invalid JSON-RPC body", "error", err)
		http.Error(w, "Bad Request: invalid JSON-RPC request", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if req.Method == MethodInitialize {
		if sessionID == "" || s.sessions.Validate(sessionID) != nil {
			sessionID = s.sessions.Create()
			s.logger.Info("MCP session created", "session_id", sessionID)
		}
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing "+SessionIDHeader, http.StatusBadRequest)
			return
		}
		if !s.validateSession(w, sessionID) {
			return
		}
	}

	if err := s.sessions.Touch(sessionID); err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	// Tool calls run to completion even if the client disconnects.
	resp := s.dispatcher.Handle(context.WithoutCancel(r.Context()), req)
	if resp == nil {
		w.Header().Set(SessionIDHeader, sessionID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if IsInitializeResult(resp) {
		if err := s.sessions.MarkInitialized(sessionID); err == nil {
			s.logger.Debug("MCP session initialized", "session_id", sessionID)
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode JSON-RPC response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(SessionIDHeader, sessionID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write JSON-RPC response", "error", err)
	}
}

// handleGet opens a keep-alive-only SSE stream for an existing session.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+SessionIDHeader, http.StatusBadRequest)
		return
	}
	if !s.validateSession(w, sessionID) {
		return
	}
	if err := s.sessions.Touch(sessionID); err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(SessionIDHeader, sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("SSE stream opened", "session_id", sessionID)
	defer s.logger.Debug("SSE stream closed", "session_id", sessionID)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+SessionIDHeader, http.StatusBadRequest)
		return
	}

	if !s.sessions.Delete(sessionID) {
		s.logger.Debug("DELETE for unknown session", "session_id", sessionID)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusOK)
}

// validateSession writes 404 and returns false when the session is unusable.
// Unknown and expired sessions look the same to the client.
func (s *Server) validateSession(w http.ResponseWriter, sessionID string) bool {
	err := s.sessions.Validate(sessionID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrExpired):
		s.logger.Info("session expired", "session_id", sessionID)
	default:
		s.logger.Debug("session not found", "session_id", sessionID)
	}
	http.Error(w, "Not Found", http.StatusNotFound)
	return false
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
