// ABOUTME: Gateway orchestrator that serves one MCP backend over HTTP(S) or stdio
// ABOUTME: Manages sessions, TLS identity, metrics, health endpoint and shutdown ordering

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/mcpz/internal/config"
	"github.com/2389/mcpz/internal/mcp"
	"github.com/2389/mcpz/internal/metrics"
	"github.com/2389/mcpz/internal/session"
	"github.com/2389/mcpz/internal/tlsutil"
)

const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the mcpz HTTP transport for a single backend.
type Gateway struct {
	config     *config.Config
	backend    mcp.Backend
	sessions   *session.Manager
	mcpServer  *mcp.Server
	metrics    *metrics.Recorder
	httpServer *http.Server
	logger     *slog.Logger

	// identity is set when TLS is enabled
	identity *tlsutil.Identity
}

// New creates a new Gateway serving backend with the given configuration.
func New(cfg *config.Config, backend mcp.Backend, logger *slog.Logger) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	gw := &Gateway{
		config:  cfg,
		backend: backend,
		logger:  logger.With("component", "gateway"),
	}

	sessionCfg := session.Config{
		TTL:           cfg.Server.SessionTTL,
		SweepInterval: cfg.Server.SweepInterval,
		Logger:        logger.With("component", "sessions"),
	}

	var observer mcp.Observer
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
		sessionCfg.OnCreate = gw.metrics.SessionCreated
		sessionCfg.OnSweep = gw.metrics.SessionsSwept
		observer = gw.metrics
	}

	gw.sessions = session.NewManager(sessionCfg)
	gw.metrics.TrackActiveSessions(gw.sessions.Count)

	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Backend:  backend,
		Logger:   logger.With("component", "dispatcher"),
		Observer: observer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Dispatcher:        dispatcher,
		Sessions:          gw.sessions,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		KeepAliveInterval: cfg.Server.KeepAliveInterval,
		Logger:            logger.With("component", "mcp"),
		Observer:          observer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()

	// Health and metrics are neither origin-checked nor session-gated
	mux.HandleFunc("/health", gw.handleHealth)
	if gw.metrics != nil {
		mux.Handle(cfg.Metrics.Path, gw.metrics.Handler())
		gw.logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}
	gw.mcpServer.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.TLS.Enabled {
		if err := gw.setupTLS(); err != nil {
			return nil, err
		}
	}

	return gw, nil
}

// setupTLS loads or generates the server identity and installs it on the HTTP server.
func (g *Gateway) setupTLS() error {
	tlsCfg := g.config.Server.TLS
	identity, err := tlsutil.Load(tlsutil.Options{
		CertFile: tlsCfg.CertFile,
		KeyFile:  tlsCfg.KeyFile,
		CacheDir: tlsCfg.CacheDir,
		Logger:   g.logger,
	})
	if err != nil {
		return fmt.Errorf("loading TLS identity: %w", err)
	}

	serverCfg, err := identity.ServerConfig()
	if err != nil {
		return fmt.Errorf("building TLS config: %w", err)
	}

	g.identity = identity
	g.httpServer.TLSConfig = serverCfg
	return nil
}

// Handler returns the HTTP handler serving /mcp, /health and metrics.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Sessions returns the session manager.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// Identity returns the TLS identity, or nil when TLS is disabled.
func (g *Gateway) Identity() *tlsutil.Identity {
	return g.identity
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	g.sessions.Start()

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener binds the configured address, wrapping it in TLS when enabled.
func (g *Gateway) setupListener() (net.Listener, error) {
	addr := g.config.Server.Addr
	g.warnExposure(addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	scheme := "http"
	if g.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, g.httpServer.TLSConfig)
		scheme = "https"
		g.logIdentity()
	}

	g.logger.Info("MCP server listening",
		"backend", g.backend.Name(),
		"url", fmt.Sprintf("%s://%s%s", scheme, ln.Addr().String(), mcp.Path),
		"session_ttl", g.sessions.TTL(),
	)
	return ln, nil
}

func (g *Gateway) logIdentity() {
	fingerprint, err := g.identity.Fingerprint()
	if err != nil {
		g.logger.Warn("could not compute certificate fingerprint", "error", err)
		return
	}
	attrs := []any{"sha256", fingerprint}
	if g.identity.SelfSigned {
		attrs = append(attrs, "self_signed", true, "cert_path", g.identity.CertPath)
	}
	g.logger.Info("TLS enabled", attrs...)
}

// warnExposure logs security warnings when binding beyond loopback.
func (g *Gateway) warnExposure(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || IsLoopbackHost(host) {
		return
	}

	g.logger.Warn("binding to a non-loopback address exposes tools to the network", "addr", addr)
	g.logger.Warn("any client that can reach this address and pass the origin check can call tools")
	if g.httpServer.TLSConfig == nil {
		g.logger.Warn("TLS is disabled; traffic including tool output is sent in cleartext", "hint", "use --tls")
	}
}

// IsLoopbackHost reports whether host names only the local machine.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// startServer serves HTTP in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown ends event streams, stops the HTTP server, stops the session
// sweeper and closes the backend, in that order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.mcpServer.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.sessions.Close()

	errs = appendCloseError(errs, "backend close", closeBackend(g.backend))

	return errors.Join(errs...)
}

// closeBackend closes backends that hold resources, such as a database pool.
func closeBackend(backend mcp.Backend) error {
	if c, ok := backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// RunStdio serves backend over newline-delimited JSON-RPC on in/out until EOF
// or context cancellation, then closes the backend.
func RunStdio(ctx context.Context, backend mcp.Backend, in io.Reader, out io.Writer, logger *slog.Logger) error {
	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Backend: backend,
		Logger:  logger.With("component", "dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	logger.Info("MCP server ready on stdio", "backend", backend.Name())

	// A blocked read on in cannot observe ctx, so cancellation returns
	// without waiting for the reader goroutine.
	done := make(chan error, 1)
	go func() { done <- mcp.ServeStdio(ctx, dispatcher, in, out) }()

	var serveErr error
	select {
	case serveErr = <-done:
	case <-ctx.Done():
		logger.Info("context canceled, stopping stdio server")
	}

	closeErr := closeBackend(backend)
	if serveErr != nil {
		return serveErr
	}
	if closeErr != nil {
		return fmt.Errorf("backend close: %w", closeErr)
	}
	return nil
}
