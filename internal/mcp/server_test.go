// ABOUTME: Tests for the Streamable HTTP transport.
// ABOUTME: Covers the session lifecycle end to end, origin checks and the SSE stream.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcpz/internal/session"
)

const (
	initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`
	toolsListBody  = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
)

type testServer struct {
	server   *Server
	sessions *session.Manager
	handler  http.Handler
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	sessions := session.NewManager(session.Config{TTL: time.Hour, Logger: quietLogger()})
	srv, err := NewServer(Config{
		Dispatcher:        newTestDispatcher(t),
		Sessions:          sessions,
		AllowedOrigins:    origins,
		KeepAliveInterval: 20 * time.Millisecond,
		Logger:            quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return &testServer{server: srv, sessions: sessions, handler: mux}
}

func (ts *testServer) do(method, body, sessionID string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/mcp", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) initialize(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, initializeBody, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(SessionIDHeader)
	require.NotEmpty(t, id)
	return id
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Sessions: session.NewManager(session.Config{})})
	assert.Error(t, err)

	_, err = NewServer(Config{Dispatcher: newTestDispatcher(t)})
	assert.Error(t, err)
}

func TestServer_EndToEnd(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, initializeBody, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	sessionID := rec.Header().Get(SessionIDHeader)
	require.NotEmpty(t, sessionID)

	var initResp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	assert.Contains(t, string(initResp.Result), `"protocolVersion"`)
	assert.True(t, ts.sessions.IsInitialized(sessionID))

	rec = ts.do(http.MethodPost, toolsListBody, sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, rec.Header().Get(SessionIDHeader))
	var listResp struct {
		Result ListToolsResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.NotEmpty(t, listResp.Result.Tools)

	rec = ts.do(http.MethodDelete, "", sessionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, toolsListBody, sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Notification(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.initialize(t)

	rec := ts.do(http.MethodPost, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, sessionID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, sessionID, rec.Header().Get(SessionIDHeader))
	assert.Empty(t, rec.Body.String())
}

func TestServer_PostErrors(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.initialize(t)

	t.Run("malformed body", func(t *testing.T) {
		rec := ts.do(http.MethodPost, `{not json`, sessionID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing session header", func(t *testing.T) {
		rec := ts.do(http.MethodPost, toolsListBody, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := ts.do(http.MethodPost, toolsListBody, "does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		big := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"pad":"` + strings.Repeat("x", MaxRequestBodySize) + `"}}`
		rec := ts.do(http.MethodPost, big, sessionID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported protocol version header", func(t *testing.T) {
		rec := ts.do(http.MethodPost, toolsListBody, sessionID, map[string]string{ProtocolVersionHeader: "1999-01-01"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown method is a JSON-RPC error", func(t *testing.T) {
		rec := ts.do(http.MethodPost, `{"jsonrpc":"2.0","id":5,"method":"prompts/list"}`, sessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "prompts/list")
	})

	t.Run("unsupported HTTP method", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "", sessionID, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, POST, DELETE", rec.Header().Get("Allow"))
	})
}

func TestServer_ExpiredSession(t *testing.T) {
	sessions := session.NewManager(session.Config{TTL: 20 * time.Millisecond, Logger: quietLogger()})
	srv, err := NewServer(Config{Dispatcher: newTestDispatcher(t), Sessions: sessions, Logger: quietLogger()})
	require.NoError(t, err)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := &testServer{server: srv, sessions: sessions, handler: mux}

	sessionID := ts.initialize(t)
	time.Sleep(40 * time.Millisecond)

	rec := ts.do(http.MethodPost, toolsListBody, sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "", sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_InitializeReusesLiveSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.initialize(t)

	rec := ts.do(http.MethodPost, initializeBody, sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, rec.Header().Get(SessionIDHeader))

	rec = ts.do(http.MethodPost, initializeBody, "stale-id", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "stale-id", rec.Header().Get(SessionIDHeader))
	assert.Equal(t, 2, ts.sessions.Count())
}

func TestServer_Origin(t *testing.T) {
	ts := newTestServer(t, "https://a.com")
	sessionID := ts.initialize(t)

	tests := []struct {
		origin string
		want   int
	}{
		{"https://evil.com", http.StatusForbidden},
		{"https://a.com", http.StatusOK},
		{"http://localhost:5173", http.StatusOK},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rec := ts.do(http.MethodPost, toolsListBody, sessionID, map[string]string{"Origin": tt.origin})
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := ts.do(http.MethodDelete, "", sessionID, map[string]string{"Origin": "https://evil.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(http.MethodGet, "", sessionID, map[string]string{"Origin": "https://evil.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, initializeBody, "", map[string]string{"Origin": "https://evil.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_Delete(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.initialize(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "", sessionID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "", sessionID, nil).Code)
}

func TestServer_GetRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "", "unknown", nil).Code)
}

func TestServer_EventStreamKeepAlive(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.initialize(t)

	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(SessionIDHeader, sessionID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	// Closing the server ends the stream.
	ts.server.Close()
	done := make(chan struct{})
	go func() {
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Close")
	}
}
