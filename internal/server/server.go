// Package server exposes the controller over a local HTTP API: status,
// asset queries, transforms, server start/stop, the websocket event stream,
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitedesk/sitedesk/internal/assets"
	"github.com/sitedesk/sitedesk/internal/controller"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/supervisor"
	"github.com/sitedesk/sitedesk/internal/transform"
)

// Controller is what the API drives.
type Controller interface {
	Status() controller.StatusReport
	Assets() ([]string, error)
	Inspect(name string) (assets.Asset, error)
	Transform(ctx context.Context, req transform.Request, keepRatio bool) (transform.Result, error)
	StartServer(ctx context.Context, mode supervisor.Mode) error
	StopServer(ctx context.Context) error
}

// Options configures the API server.
type Options struct {
	Addr string
	// Events serves the websocket stream at /ws when set.
	Events http.Handler
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// MutationsPerMinute limits POST requests per client; zero disables it.
	MutationsPerMinute int
	AllowedOrigins     []string
}

// Server is the control API.
type Server struct {
	opts    Options
	ctrl    Controller
	limiter *RateLimiter
	logger  logging.Logger

	serverMutex sync.Mutex
	httpServer  *http.Server
}

// New creates the API server.
func New(opts Options, ctrl Controller, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("api")
	s := &Server{opts: opts, ctrl: ctrl, logger: logger}
	if opts.MutationsPerMinute > 0 {
		s.limiter = NewRateLimiter(&RateLimitConfig{
			RequestsPerMinute: opts.MutationsPerMinute,
			BurstSize:         opts.MutationsPerMinute,
			Enabled:           true,
		}, logger)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/assets", s.handleAssets)
	mux.HandleFunc("GET /api/assets/{name}", s.handleAsset)

	mutations := http.NewServeMux()
	mutations.HandleFunc("POST /api/transform", s.handleTransform)
	mutations.HandleFunc("POST /api/server/start", s.handleServerStart)
	mutations.HandleFunc("POST /api/server/stop", s.handleServerStop)
	var mutating http.Handler = mutations
	if s.limiter != nil {
		mutating = RateLimitMiddleware(s.limiter)(mutating)
	}
	mux.Handle("POST /api/", mutating)

	if s.opts.Events != nil {
		mux.Handle("GET /ws", s.opts.Events)
	}
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return chain(mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		originMiddleware(s.opts.AllowedOrigins, s.logger),
		securityHeaders,
	)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return siteerrors.NewIOError("API_LISTEN", "cannot listen for the control API", err).
			WithContext("addr", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.logger.Info(ctx, "Control API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.stopLimiter()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return siteerrors.NewIOError("API_SERVE", "control API failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.stopLimiter()
	if err != nil {
		return siteerrors.NewIOError("API_SHUTDOWN", "control API did not shut down cleanly", err)
	}
	s.logger.Info(shutdownCtx, "Control API stopped")
	return nil
}

func (s *Server) stopLimiter() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
