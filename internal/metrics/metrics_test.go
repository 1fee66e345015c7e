// ABOUTME: Tests for the Prometheus recorder.
// ABOUTME: Reads counters back with testutil and scrapes the handler.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.RPCRequest("tools/list")
	r.RPCRequest("tools/list")
	r.RPCRequest("made/up")
	r.ToolCall("read_file", "ok")
	r.HTTPRequest("POST", 200)
	r.SessionCreated()
	r.SessionsSwept(3)
	r.SessionsSwept(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.rpcRequests.WithLabelValues("tools/list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rpcRequests.WithLabelValues("other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("read_file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionsCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.sessionsSwept))
}

func TestRecorder_HandlerExposesActiveSessions(t *testing.T) {
	r := New()
	r.TrackActiveSessions(func() int { return 4 })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcpz_sessions_active 4")
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.RPCRequest("x")
	r.ToolCall("a", "b")
	r.HTTPRequest("GET", 200)
	r.SessionCreated()
	r.SessionsSwept(1)
	r.TrackActiveSessions(func() int { return 1 })
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
