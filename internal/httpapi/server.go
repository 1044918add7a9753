// Package httpapi exposes ingestion over HTTP.
//
// Routes:
//   - GET  /api/health           liveness check
//   - POST /api/ingest           ingest one export and commit the selection
//   - POST /api/ingest/preview   prepare one export without persisting anything
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Ingestor is the pipeline the handlers drive
type Ingestor interface {
	Ingest(ctx context.Context, req *ingest.IngestRequest) (*ingest.IngestResult, error)
	Prepare(ctx context.Context, doc models.RawDocument) (*matcher.Batch, []ingest.Rejection, error)
}

// Config holds HTTP server settings
type Config struct {
	Addr              string        `mapstructure:"addr"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		MaxBodyBytes:      50 << 20,
		RequestTimeout:    2 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative, got %v", c.RequestTimeout)
	}
	return nil
}

// Server wraps a chi router and the stdlib http.Server
type Server struct {
	config   *Config
	ingestor Ingestor
	logger   logger.Logger
	mux      *chi.Mux
	srv      *http.Server
}

// NewServer builds the router and mounts the ingestion routes
func NewServer(config *Config, ingestor Ingestor, log logger.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}

	s := &Server{
		config:   config,
		ingestor: ingestor,
		logger:   logger.OrGlobal(log).WithComponent("http"),
		mux:      chi.NewRouter(),
	}

	s.mux.Use(chimw.RequestID)
	s.mux.Use(chimw.RealIP)
	s.mux.Use(s.requestLogger)
	s.mux.Use(chimw.Recoverer)
	if config.RequestTimeout > 0 {
		s.mux.Use(chimw.Timeout(config.RequestTimeout))
	}

	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/ingest", func(r chi.Router) {
			r.Use(chimw.AllowContentType("application/json"))
			r.Post("/", s.handleIngest)
			r.Post("/preview", s.handlePreview)
		})
	})

	s.srv = &http.Server{
		Addr:              config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listening address
func (s *Server) Addr() string {
	return s.config.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		}).Info("HTTP request")
	})
}
