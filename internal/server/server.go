// Package server exposes the collected metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Config holds the HTTP listener settings.
type Config struct {
	ListenAddress  string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxConnections int

	// ScrapeRateLimit is the sustained number of /metrics requests per second
	// allowed across all clients. Zero disables limiting.
	ScrapeRateLimit float64
	ScrapeBurst     int

	// BasicAuth maps user names to bcrypt password hashes. Empty disables
	// authentication. User names are matched case-insensitively.
	BasicAuth map[string]string
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress: "0.0.0.0:9184",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}

// Health is the collector status reported by /health.
type Health struct {
	Healthy   bool
	State     string
	LastCycle time.Time
}

// HealthFunc reports the current collector status.
type HealthFunc func() Health

// Server is the simon HTTP endpoint.
type Server struct {
	httpServer *http.Server
	cfg        Config
	gatherer   prometheus.Gatherer
	health     HealthFunc
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance. health may be nil.
func New(cfg Config, gatherer prometheus.Gatherer, health HealthFunc, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	if len(cfg.BasicAuth) > 0 {
		users := make(map[string]string, len(cfg.BasicAuth))
		for user, hash := range cfg.BasicAuth {
			users[strings.ToLower(user)] = hash
		}
		cfg.BasicAuth = users
	}

	s := &Server{
		cfg:      cfg,
		gatherer: gatherer,
		health:   health,
		logger:   logger,
		mux:      mux,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.withRequestLog(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger),
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up the landing page, scrape and health endpoints.
func (s *Server) registerRoutes() {
	protected := chain(s.withBasicAuth)
	scrape := protected.extend(s.withScrapeLimit())

	s.mux.Handle("GET /{$}", protected.thenFunc(s.handleLanding))
	s.mux.Handle("GET /metrics", scrape.thenFunc(s.handleMetrics))
	s.mux.Handle("GET /health", protected.thenFunc(s.handleHealth))
	s.mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns the fully wrapped HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, capped at MaxConnections when set.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.cfg.MaxConnections),
		zap.Bool("basic_auth", len(s.cfg.BasicAuth) > 0),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
