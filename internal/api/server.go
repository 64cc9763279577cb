package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/univ-capstone/modelvideo/internal/auth"
	"github.com/univ-capstone/modelvideo/internal/ledger"
	"github.com/univ-capstone/modelvideo/internal/metrics"
	"github.com/univ-capstone/modelvideo/internal/upload"
)

const Version = "0.2.0"

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Service    *upload.Service
	Repository ledger.Repository
	Runner     *upload.Runner
	Metrics    *metrics.Metrics
	// Auth is nil when no signing key is configured; requests are then
	// accepted without a token.
	Auth        *auth.Manager
	CORSOrigins []string
	// RateLimit is requests per second per client, 0 disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
