package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hassdash/dashboard/internal/auth"
	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/model"
	"github.com/hassdash/dashboard/internal/state"
	"github.com/hassdash/dashboard/internal/store"
)

// StateService is the state cache as seen by the REST handlers.
type StateService interface {
	Get(ctx context.Context, entityID string) (model.EntityState, error)
	GetAll(ctx context.Context) ([]model.EntityState, error)
	Set(ctx context.Context, entityID string, change state.PartialState) error
	SubscribeToEntity(ctx context.Context, entityID string, cb state.Callback) (int64, error)
	UnsubscribeFromEntity(ctx context.Context, handle int64) error
}

// HealthSource reports hub connection health.
type HealthSource interface {
	Health() connection.Health
}

// Config holds server settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MetricsPath       string
	StreamKeepAlive   time.Duration // SSE comment interval (default: 15s)
	Tokens            *auth.TokenSet
	Gatherer          prometheus.Gatherer // nil disables /metrics
}

// Server is the REST interface.
type Server struct {
	cfg     Config
	states  StateService
	health  HealthSource
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	handler http.Handler

	// streams is canceled when shutdown starts so open SSE responses end.
	streams      context.Context
	cancelStream context.CancelFunc
}

// New creates a Server. st and m may be nil.
func New(cfg Config, states StateService, health HealthSource, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:     cfg,
		states:  states,
		health:  health,
		store:   st,
		metrics: m,
		logger:  logger,
	}
	s.streams, s.cancelStream = context.WithCancel(context.Background())
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/states", s.handleListStates)
	api.HandleFunc("GET /api/states/{entity_id}", s.handleGetState)
	api.HandleFunc("POST /api/states/{entity_id}", s.handleSetState)
	api.HandleFunc("GET /api/states/{entity_id}/stream", s.handleStream)

	if s.store != nil {
		registerDocuments(api, "/api/floorplans", s.store.FloorPlans,
			func() *model.FloorPlan { return &model.FloorPlan{} }, s.logger)
		registerDocuments(api, "/api/plugins", s.store.Plugins,
			func() *model.Plugin { return &model.Plugin{} }, s.logger)
	}

	var protected http.Handler = api
	if s.cfg.Tokens != nil {
		protected = s.cfg.Tokens.Middleware(s.logger)(api)
	} else {
		s.logger.Warn("REST API running without authentication")
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Gatherer != nil {
		root.Handle("GET "+s.cfg.MetricsPath, promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle("/api/", protected)

	return s.logRequests(root)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.cancelStream()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.cancelStream()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
