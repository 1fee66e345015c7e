// ABOUTME: Prometheus collectors for mcpz on a private registry.
// ABOUTME: Implements the mcp Observer and session hooks; served by the gateway.

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the mcpz collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	rpcRequests     *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsSwept   prometheus.Counter
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpz_http_requests_total",
				Help: "HTTP requests to the MCP endpoint by method and status code",
			},
			[]string{"method", "code"},
		),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpz_rpc_requests_total",
				Help: "JSON-RPC requests dispatched by method",
			},
			[]string{"method"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpz_tool_calls_total",
				Help: "Tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpz_sessions_created_total",
			Help: "Sessions created by initialize requests",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpz_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		}),
	}

	registry.MustRegister(
		r.httpRequests,
		r.rpcRequests,
		r.toolCalls,
		r.sessionsCreated,
		r.sessionsSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// TrackActiveSessions registers a gauge that reads count on every scrape.
func (r *Recorder) TrackActiveSessions(count func() int) {
	if r == nil {
		return
	}
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mcpz_sessions_active",
			Help: "Sessions currently held by the session manager",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RPCRequest counts one dispatched JSON-RPC method.
func (r *Recorder) RPCRequest(method string) {
	if r == nil {
		return
	}
	r.rpcRequests.WithLabelValues(normalizeMethod(method)).Inc()
}

// ToolCall counts one tool invocation with its outcome.
func (r *Recorder) ToolCall(tool, outcome string) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// HTTPRequest counts one request to the MCP endpoint by method and status.
func (r *Recorder) HTTPRequest(method string, code int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// SessionCreated counts one new session.
func (r *Recorder) SessionCreated() {
	if r == nil {
		return
	}
	r.sessionsCreated.Inc()
}

// SessionsSwept counts sessions removed by one sweep.
func (r *Recorder) SessionsSwept(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.sessionsSwept.Add(float64(n))
}

var knownMethods = map[string]bool{
	"initialize":                true,
	"initialized":               true,
	"notifications/initialized": true,
	"tools/list":                true,
	"tools/call":                true,
}

// normalizeMethod keeps client-controlled method names out of label values.
func normalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}
