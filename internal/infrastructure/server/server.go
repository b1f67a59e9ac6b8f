// Package server runs the status HTTP server of a runtime.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/rtapi/internal/api/http"
	"github.com/GriffinCanCode/rtapi/internal/api/middleware"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/config"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/monitoring"
)

// Version is reported by the root route.
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewServer creates a status server over src
func NewServer(cfg *config.Config, src apihttp.Source, metrics *monitoring.Metrics, logger *logging.Logger) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
		if n := cfg.RateLimit.SnapshotRPS; n > 0 {
			router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{RequestsPerSecond: n, Burst: n}))
		}
	}

	apihttp.NewHandlers(src, metrics, Version).Register(router)

	return &Server{
		router:  router,
		http:    &http.Server{Addr: cfg.Status.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		logger:  logger,
		metrics: metrics,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting status server", zap.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down status server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		s.logger.Error("Failed to shut down status server", zap.Error(err))
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}
