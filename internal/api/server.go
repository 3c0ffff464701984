package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/escrow"
	"AgentEscrow-Chain/internal/observability/metrics"
	"AgentEscrow-Chain/internal/payments"
	"AgentEscrow-Chain/internal/validation"
	"AgentEscrow-Chain/pkg/logger"
)

// Server serves the settlement API.
type Server struct {
	addr       string
	escrow     *escrow.Engine
	validation *validation.Engine
	payments   *payments.Processor
	metrics    *metrics.Metrics
	auth       auth.MiddlewareConfig
	log        *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPayments enables POST /api/v1/payments.
func WithPayments(p *payments.Processor) Option {
	return func(s *Server) {
		s.payments = p
	}
}

// WithAuth configures request authentication.
func WithAuth(cfg auth.MiddlewareConfig) Option {
	return func(s *Server) {
		s.auth = cfg
	}
}

// NewServer builds the API server.
func NewServer(addr string, esc *escrow.Engine, val *validation.Engine, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		escrow:     esc,
		validation: val,
		auth:       auth.MiddlewareConfig{Mode: auth.ModeSignature},
		log:        logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.auth.OnError = writeError
	return s
}

// Start serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api listening", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler returns the routed and authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.escrow != nil {
		s.escrowRoutes(mux)
	}
	if s.validation != nil {
		s.validationRoutes(mux)
	}
	if s.payments != nil {
		s.route(mux, "POST /api/v1/payments", s.mutation(s.pay))
	}
	return auth.Middleware(s.auth)(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	if s.metrics == nil {
		mux.Handle(pattern, h)
		return
	}
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		s.metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	}))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext refuses requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
